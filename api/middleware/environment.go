package middleware

import (
	"context"
	"net/http"

	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// EnvironmentHeader lets storefront clients route an order through the
// provider sandbox. Absent or unknown values fall back to production.
const EnvironmentHeader = "X-Client-Environment"

type environmentKey struct{}

// Environment resolves the client-requested provider environment and
// stores it on the request context.
func Environment() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			environment := enums.EnvironmentProduction
			if raw := r.Header.Get(EnvironmentHeader); raw != "" {
				if parsed, err := enums.ParseEnvironment(raw); err == nil {
					environment = parsed
				}
			}
			ctx := context.WithValue(r.Context(), environmentKey{}, environment)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EnvironmentFromContext returns the provider environment resolved for
// the request, defaulting to production.
func EnvironmentFromContext(ctx context.Context) enums.Environment {
	if ctx == nil {
		return enums.EnvironmentProduction
	}
	if v, ok := ctx.Value(environmentKey{}).(enums.Environment); ok {
		return v
	}
	return enums.EnvironmentProduction
}
