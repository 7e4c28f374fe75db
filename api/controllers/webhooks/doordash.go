package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tavolahq/tavola-backend/api/responses"
	doordashwebhook "github.com/tavolahq/tavola-backend/internal/webhooks/doordash"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

type DoorDashWebhookService interface {
	HandleEvent(ctx context.Context, event *doordashwebhook.Event, environment enums.Environment) error
}

// DoorDashWebhook ingests delivery events. Same retry contract as the
// payment webhook: failures return non-2xx and release the event mark.
func DoorDashWebhook(svc DoorDashWebhookService, cfg config.DoorDashConfig, guard idempotencyGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(doordash.SignatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "delivery signature missing"))
			return
		}

		environment, err := doordash.VerifyWebhook(cfg, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify signature"))
			return
		}

		var event doordashwebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode delivery event"))
			return
		}
		eventID := event.EventID
		if eventID == "" {
			// Providers without an event id still get per-delivery,
			// per-kind dedup.
			eventID = event.ExternalDeliveryID + ":" + event.Kind
		}

		alreadyProcessed, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleEvent(ctx, &event, environment); err != nil {
			_ = guard.Delete(ctx, eventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(ctx, fmt.Sprintf("delivery event %s processed (%s)", eventID, environment))
		responses.WriteSuccess(w, nil)
	}
}
