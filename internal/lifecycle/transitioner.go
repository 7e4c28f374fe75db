package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/notify"
)

// Store is the persistence surface the transitioner needs. The order
// repository implements it.
type Store interface {
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// UpdateStatus performs a compare-and-set: the write only lands when
	// the row still carries the expected status.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (bool, error)
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
	// MarkMetadataOnce writes the key only if absent and reports whether
	// this caller won the write.
	MarkMetadataOnce(ctx context.Context, orderID uuid.UUID, key string, value any) (bool, error)
}

// ReadyNotifier tells the delivery provider the kitchen is done. The
// delivery service implements it.
type ReadyNotifier interface {
	NotifyReady(ctx context.Context, order *models.Order) error
}

// Transitioner is the single mutation point for order status. Cron,
// timers, webhooks, and read-triggered progression all funnel through
// Apply, which tolerates concurrent callers via compare-and-set.
type Transitioner struct {
	store    Store
	ready    ReadyNotifier
	notifier notify.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

// TransitionerParams wires the transitioner's collaborators.
type TransitionerParams struct {
	Store         Store
	ReadyNotifier ReadyNotifier
	Notifier      notify.Notifier
	Logger        *logger.Logger
	Now           func() time.Time
}

// NewTransitioner validates dependencies and builds a Transitioner.
func NewTransitioner(params TransitionerParams) (*Transitioner, error) {
	if params.Store == nil {
		return nil, errors.New("store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Transitioner{
		store:   params.Store,
		ready:   params.ReadyNotifier,
		notifier: notifier,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// SetReadyNotifier installs the ready notifier after construction. The
// delivery service needs the transitioner to process courier updates,
// so wiring binds the notifier second. Call before serving traffic.
func (t *Transitioner) SetReadyNotifier(ready ReadyNotifier) {
	t.ready = ready
}

// EnsureSchedule returns the order's persisted schedule, computing and
// storing it if absent. The write is once-only: a concurrent writer's
// schedule wins and is re-read rather than overwritten.
func (t *Transitioner) EnsureSchedule(ctx context.Context, order *models.Order) (Schedule, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order is required")
	}

	existing, err := ScheduleFromMetadata(order.Metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse status schedule")
	}
	if existing != nil {
		return existing, nil
	}

	computed := ComputeSchedule(order.FulfillmentType, order.CreatedAt, order.Environment())
	won, err := t.store.MarkMetadataOnce(ctx, order.ID, models.MetaStatusSchedule, computed.Encode())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist status schedule")
	}
	if won {
		if order.Metadata == nil {
			order.Metadata = map[string]any{}
		}
		order.Metadata[models.MetaStatusSchedule] = computed.Encode()
		return computed, nil
	}

	// Lost the race: another path already persisted a schedule.
	fresh, err := t.store.FindOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order schedule")
	}
	order.Metadata = fresh.Metadata
	stored, err := ScheduleFromMetadata(fresh.Metadata)
	if err != nil || stored == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "status schedule missing after ensure")
	}
	return stored, nil
}

// Advance applies every due schedule step in order. The loop is
// bounded by the flow length; each step re-checks the current status
// so concurrent progression from another trigger simply stops the loop.
func (t *Transitioner) Advance(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := t.store.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return order, nil
	}

	schedule, err := t.EnsureSchedule(ctx, order)
	if err != nil {
		return nil, err
	}

	for range Flow(order.FulfillmentType) {
		next, due := NextDue(order.FulfillmentType, order.Status, schedule, t.now())
		if !due {
			break
		}
		applied, err := t.Apply(ctx, order, next, enums.ActorSystem, "")
		if err != nil {
			return nil, err
		}
		if !applied {
			break
		}
	}
	return order, nil
}

// Apply performs one guarded transition. Returns false without error
// when the order moved underneath us or the target is not forward.
func (t *Transitioner) Apply(ctx context.Context, order *models.Order, next enums.OrderStatus, actor enums.Actor, detail string) (bool, error) {
	if order == nil {
		return false, pkgerrors.New(pkgerrors.CodeInternal, "order is required")
	}
	if !next.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", next))
	}
	if !IsForward(order.FulfillmentType, order.Status, next) {
		return false, nil
	}

	won, err := t.store.UpdateStatus(ctx, order.ID, order.Status, next)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
	}
	if !won {
		return false, nil
	}
	order.Status = next

	event := &models.OrderEvent{
		OrderID: order.ID,
		Status:  next,
		Title:   statusTitle(next),
		Detail:  detail,
		Actor:   actor,
	}
	if err := t.store.AppendEvent(ctx, event); err != nil {
		t.logg.Error(ctx, "append order event", err)
	}

	t.fireSideEffects(ctx, order, next)
	return true, nil
}

// fireSideEffects runs the externally visible consequences of a
// transition. Each one carries its own persisted idempotency marker;
// failures are logged and never undo the status write.
func (t *Transitioner) fireSideEffects(ctx context.Context, order *models.Order, status enums.OrderStatus) {
	ctx = t.logg.WithOrderID(ctx, order.ID.String())

	if status == enums.OrderStatusReady &&
		order.FulfillmentType == enums.FulfillmentTypeDelivery &&
		t.ready != nil {
		won, err := t.store.MarkMetadataOnce(ctx, order.ID, models.MetaReadyNotifiedAt, t.now().UTC().Format(time.RFC3339))
		if err != nil {
			t.logg.Error(ctx, "mark ready notification", err)
		} else if won {
			if err := t.ready.NotifyReady(ctx, order); err != nil {
				t.logg.Error(ctx, "notify provider order ready", err)
			}
		}
	}

	marker := models.MetaNotifiedPrefix + status.String()
	won, err := t.store.MarkMetadataOnce(ctx, order.ID, marker, t.now().UTC().Format(time.RFC3339))
	if err != nil {
		t.logg.Error(ctx, "mark customer notification", err)
		return
	}
	if !won {
		return
	}

	event := notify.OrderStatusEvent{
		OrderID:     order.ID.String(),
		TenantID:    order.TenantID.String(),
		Status:      status,
		Environment: order.Environment(),
		Phone:       order.Contact.Phone,
		Email:       order.Contact.Email,
	}
	if err := t.notifier.OrderStatusChanged(ctx, event); err != nil {
		t.logg.Error(ctx, "publish status notification", err)
	}
}

func statusTitle(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusCreated:
		return "Order placed"
	case enums.OrderStatusAccepted:
		return "Order accepted"
	case enums.OrderStatusInKitchen:
		return "Preparing your order"
	case enums.OrderStatusReady:
		return "Order ready"
	case enums.OrderStatusCourierRequested:
		return "Courier requested"
	case enums.OrderStatusDriverEnRoute:
		return "Driver on the way"
	case enums.OrderStatusPickedUp:
		return "Order picked up"
	case enums.OrderStatusDelivered:
		return "Order delivered"
	case enums.OrderStatusCanceled:
		return "Order canceled"
	case enums.OrderStatusFailed:
		return "Order failed"
	default:
		return "Order updated"
	}
}
