package controllers

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tavolahq/tavola-backend/api/responses"
	"github.com/tavolahq/tavola-backend/internal/cron"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

// CronSecretHeader carries the shared secret for manual cron triggers.
const CronSecretHeader = "X-Cron-Secret"

// CronTrigger runs a registered cron job on demand. The endpoint is
// disabled when no shared secret is configured.
func CronTrigger(registry *cron.Registry, sharedSecret string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if registry == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cron registry unavailable"))
			return
		}
		if sharedSecret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cron triggers are disabled"))
			return
		}

		provided := r.Header.Get(CronSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(sharedSecret)) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid cron secret"))
			return
		}

		jobName := chi.URLParam(r, "jobName")
		var job cron.Job
		for _, candidate := range registry.Jobs() {
			if candidate.Name() == jobName {
				job = candidate
				break
			}
		}
		if job == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "Unknown cron job"))
			return
		}

		if err := job.Run(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "run cron job"))
			return
		}

		logg.Info(logg.WithField(ctx, "job", jobName), "cron job triggered")
		responses.WriteSuccess(w, map[string]string{"job": jobName, "status": "completed"})
	}
}
