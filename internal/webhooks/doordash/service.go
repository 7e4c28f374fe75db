package doordashwebhook

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/internal/delivery"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

// Event is the provider's webhook body: event metadata plus, for full
// payloads, the delivery snapshot inline. Thin payloads carry the id
// only and are explicitly re-fetched before processing.
type Event struct {
	EventID            string             `json:"event_id"`
	Kind               string             `json:"event_kind"`
	ExternalDeliveryID string             `json:"external_delivery_id"`
	Delivery           *doordash.Delivery `json:"delivery"`
}

const (
	kindDeliveryStatus = "delivery_status"
	kindCourierUpdate  = "courier_update"
	kindRefund         = "refund"
)

type reconciler interface {
	FindTask(ctx context.Context, providerJobID string) (*models.CourierTask, error)
	Hydrate(ctx context.Context, environment enums.Environment, providerJobID string) (*doordash.Delivery, error)
	ProcessUpdate(ctx context.Context, update delivery.StatusUpdate) error
}

type ServiceParams struct {
	Reconciler reconciler
	Logger     *logger.Logger
}

// Service feeds verified delivery webhooks into the same guard
// pipeline the stale poller uses, so push and pull updates cannot
// disagree on what is allowed to change.
type Service struct {
	reconciler reconciler
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "delivery reconciler required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{reconciler: params.Reconciler, logg: params.Logger}, nil
}

// HandleEvent processes one verified delivery event. The environment
// is the one whose webhook secret matched the signature.
func (s *Service) HandleEvent(ctx context.Context, event *Event, environment enums.Environment) error {
	if event == nil || event.ExternalDeliveryID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external delivery id required")
	}

	switch event.Kind {
	case kindDeliveryStatus, kindCourierUpdate, kindRefund, "":
	default:
		s.logg.Info(ctx, "ignoring delivery event kind "+event.Kind)
		return nil
	}

	// Not-found is returned as an error on purpose: the task row may
	// still be inside the dispatch transaction, and a non-2xx makes
	// the provider redeliver once it exists.
	if _, err := s.reconciler.FindTask(ctx, event.ExternalDeliveryID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "unknown delivery "+event.ExternalDeliveryID)
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load courier task")
	}

	job := event.Delivery
	if job == nil || job.Status == "" {
		full, err := s.reconciler.Hydrate(ctx, environment, event.ExternalDeliveryID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hydrate delivery")
		}
		job = full
	}
	if job.ExternalDeliveryID == "" {
		job.ExternalDeliveryID = event.ExternalDeliveryID
	}

	update, err := delivery.UpdateFromDelivery(job, false)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "normalize delivery update")
	}
	if event.Kind == kindRefund {
		if update.Raw == nil {
			update.Raw = map[string]any{}
		}
		update.Raw["provider_refund"] = true
	}

	return s.reconciler.ProcessUpdate(ctx, update)
}

var _ reconciler = (*delivery.Service)(nil)
