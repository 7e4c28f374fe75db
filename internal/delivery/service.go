package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tavolahq/tavola-backend/internal/lifecycle"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// Gateway is the courier provider surface the service depends on. The
// Drive client implements it; tests substitute a fake.
type Gateway interface {
	CreateQuote(ctx context.Context, environment enums.Environment, req doordash.QuoteRequest) (*doordash.Quote, error)
	CreateDelivery(ctx context.Context, environment enums.Environment, req doordash.DeliveryRequest) (*doordash.Delivery, error)
	GetDelivery(ctx context.Context, environment enums.Environment, externalDeliveryID string) (*doordash.Delivery, error)
	MarkPickupReady(ctx context.Context, environment enums.Environment, externalDeliveryID string) (*doordash.Delivery, error)
	CancelDelivery(ctx context.Context, environment enums.Environment, externalDeliveryID string) (*doordash.Delivery, error)
}

// Service owns courier dispatch and the reconciliation of provider
// updates into order state.
type Service struct {
	gateway      Gateway
	repo         Repository
	store        lifecycle.Store
	transitioner *lifecycle.Transitioner
	logg         *logger.Logger
	pickup       config.PickupLocation
	now          func() time.Time
}

// ServiceParams wires the delivery service's collaborators.
type ServiceParams struct {
	Gateway      Gateway
	Repo         Repository
	Store        lifecycle.Store
	Transitioner *lifecycle.Transitioner
	Logger       *logger.Logger
	Pickup       config.PickupLocation
	Now          func() time.Time
}

// NewService validates dependencies and builds a Service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Store == nil {
		return nil, errors.New("store is required")
	}
	if params.Transitioner == nil {
		return nil, errors.New("transitioner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		gateway:      params.Gateway,
		repo:         params.Repo,
		store:        params.Store,
		transitioner: params.Transitioner,
		logg:         params.Logger,
		pickup:       params.Pickup,
		now:          now,
	}, nil
}

// Quote prices a prospective delivery to the given address.
func (s *Service) Quote(ctx context.Context, environment enums.Environment, quoteID string, address types.Address, orderValueCents int) (*doordash.Quote, error) {
	if !address.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Invalid address")
	}
	return s.gateway.CreateQuote(ctx, environment, doordash.QuoteRequest{
		ExternalDeliveryID: quoteID,
		PickupAddress:      s.pickup.Address,
		PickupPhoneNumber:  s.pickup.Phone,
		DropoffAddress:     address.OneLine(),
		OrderValue:         orderValueCents,
	})
}

// Dispatch creates the provider job for a committed delivery order and
// persists its courier task.
func (s *Service) Dispatch(ctx context.Context, order *models.Order) (*models.CourierTask, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order is required")
	}
	if order.DeliveryAddress == nil || !order.DeliveryAddress.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Invalid address")
	}
	environment := order.Environment()

	job, err := s.gateway.CreateDelivery(ctx, environment, doordash.DeliveryRequest{
		ExternalDeliveryID: order.ID.String(),
		PickupAddress:      s.pickup.Address,
		PickupBusinessName: s.pickup.BusinessName,
		PickupPhoneNumber:  s.pickup.Phone,
		PickupInstructions: s.pickup.Instructions,
		DropoffAddress:     order.DeliveryAddress.OneLine(),
		DropoffPhoneNumber: order.Contact.Phone,
		DropoffContactName: order.Contact.Name,
		OrderValue:         order.TotalCents,
		TipCents:           order.TipCents,
	})
	if err != nil {
		return nil, err
	}

	status := enums.CourierTaskStatusPending
	if parsed, err := enums.ParseCourierTaskStatus(job.Status); err == nil {
		status = parsed
	}

	task := &models.CourierTask{
		OrderID:        order.ID,
		ProviderJobID:  job.ExternalDeliveryID,
		ProviderStatus: status,
		Live:           environment.IsProduction(),
		RawStatus:      types.JSONMap{},
	}
	if job.TrackingURL != "" {
		task.TrackingURL = &job.TrackingURL
	}
	return s.repo.CreateTask(ctx, task)
}

// NotifyReady tells the provider the kitchen is done. Implements the
// transitioner's ReadyNotifier.
func (s *Service) NotifyReady(ctx context.Context, order *models.Order) error {
	task, err := s.repo.FindTaskByOrder(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("find courier task: %w", err)
	}
	_, err = s.gateway.MarkPickupReady(ctx, order.Environment(), task.ProviderJobID)
	return err
}

// Cancel asks the provider to drop the job for a canceled order. A job
// already terminal at the provider is left alone.
func (s *Service) Cancel(ctx context.Context, order *models.Order) error {
	task, err := s.repo.FindTaskByOrder(ctx, order.ID)
	if err != nil {
		return nil
	}
	if task.ProviderStatus.IsTerminal() {
		return nil
	}
	if _, err := s.gateway.CancelDelivery(ctx, order.Environment(), task.ProviderJobID); err != nil {
		return err
	}
	return s.repo.UpdateTask(ctx, task.ID, map[string]any{
		"provider_status": enums.CourierTaskStatusCancelled,
		"status_at":       s.now().UTC(),
	})
}

// StatusUpdate is a normalized provider update, from either the webhook
// path or the poll path.
type StatusUpdate struct {
	ProviderJobID      string
	Status             enums.CourierTaskStatus
	CancellationReason string
	CourierName        string
	CourierPhone       string
	TrackingURL        string
	StatusAt           *time.Time
	Raw                map[string]any
	Polled             bool
}

// UpdateFromDelivery normalizes a provider snapshot into a StatusUpdate.
func UpdateFromDelivery(job *doordash.Delivery, polled bool) (StatusUpdate, error) {
	status, err := enums.ParseCourierTaskStatus(job.Status)
	if err != nil {
		return StatusUpdate{}, err
	}
	update := StatusUpdate{
		ProviderJobID:      job.ExternalDeliveryID,
		Status:             status,
		CancellationReason: job.CancellationReason,
		CourierName:        job.CourierName,
		CourierPhone:       job.CourierPhone,
		TrackingURL:        job.TrackingURL,
		StatusAt:           job.UpdatedAt,
		Polled:             polled,
		Raw: map[string]any{
			"delivery_status":   job.Status,
			"support_reference": job.SupportReference,
		},
	}
	return update, nil
}

// ProcessUpdate merges one provider update into the courier task and,
// when the guards allow, the order status. Both the webhook and the
// stale-poll paths end here.
func (s *Service) ProcessUpdate(ctx context.Context, update StatusUpdate) error {
	task, err := s.repo.FindTaskByProviderJob(ctx, update.ProviderJobID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "courier task not found")
	}
	order, err := s.store.FindOrder(ctx, task.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if err := s.updateTask(ctx, task, update); err != nil {
		return err
	}

	candidate, ok := candidateOrderStatus(update.Status)
	if !ok {
		return nil
	}

	// Guard 1: a courier dropping the job is not an order cancellation.
	// The provider reassigns automatically.
	if candidate == enums.OrderStatusCanceled && isCourierOnlyCancellation(update.CancellationReason) {
		s.appendInfoEvent(ctx, order, "Courier reassigned",
			fmt.Sprintf("courier cancelled (%s); provider is reassigning", update.CancellationReason))
		return nil
	}

	// Guard 2: a courier racing ahead of the kitchen must not skip
	// prep visibility. Task state is already saved; the order waits.
	// Cancellations are exempt, they must land whenever they arrive.
	if candidate != enums.OrderStatusCanceled && statusAtOrPastCourier(candidate) && !orderReachedReady(order) {
		s.appendInfoEvent(ctx, order, "Courier update before kitchen ready",
			fmt.Sprintf("provider reported %s while order is %s", update.Status, order.Status))
		return nil
	}

	// Guard 3: monotonicity. Apply re-checks forward-only under
	// compare-and-set, so a delayed or duplicate update simply loses.
	applied, err := s.transitioner.Apply(ctx, order, candidate, enums.ActorSystem, courierDetail(update))
	if err != nil {
		return err
	}
	if !applied && candidate != enums.OrderStatusCanceled {
		s.logg.Info(ctx, fmt.Sprintf("courier update %s rejected by transition guard", update.Status))
	}
	return nil
}

// RefreshOrder polls the provider for one order's task when it has
// gone quiet, feeding the snapshot through the guard pipeline. Order
// reads use this so a dropped webhook never leaves a customer staring
// at stale status.
func (s *Service) RefreshOrder(ctx context.Context, order *models.Order, staleAfter time.Duration) error {
	if order.FulfillmentType != enums.FulfillmentTypeDelivery {
		return nil
	}
	switch order.Status {
	case enums.OrderStatusCourierRequested, enums.OrderStatusDriverEnRoute, enums.OrderStatusPickedUp:
	default:
		return nil
	}

	task, err := s.repo.FindTaskByOrder(ctx, order.ID)
	if err != nil {
		return nil
	}
	cutoff := s.now().Add(-staleAfter)
	if task.LastPolledAt != nil && task.LastPolledAt.After(cutoff) {
		return nil
	}
	if task.UpdatedAt.After(cutoff) {
		return nil
	}

	job, err := s.gateway.GetDelivery(ctx, TaskEnvironment(task), task.ProviderJobID)
	if err != nil {
		return err
	}
	update, err := UpdateFromDelivery(job, true)
	if err != nil {
		return err
	}
	return s.ProcessUpdate(ctx, update)
}

// PollStale fetches provider state for active deliveries that have
// gone quiet and feeds it through the same guard pipeline as webhooks.
// This is the self-healing path for dropped webhooks.
func (s *Service) PollStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-staleAfter)
	tasks, err := s.repo.ListStaleActiveTasks(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	polled := 0
	for _, task := range tasks {
		environment := enums.EnvironmentTest
		if task.Live {
			environment = enums.EnvironmentProduction
		}

		job, err := s.gateway.GetDelivery(ctx, environment, task.ProviderJobID)
		if err != nil {
			s.logg.Error(ctx, fmt.Sprintf("poll courier job %s", task.ProviderJobID), err)
			continue
		}
		update, err := UpdateFromDelivery(job, true)
		if err != nil {
			s.logg.Error(ctx, fmt.Sprintf("parse courier job %s", task.ProviderJobID), err)
			continue
		}
		if err := s.ProcessUpdate(ctx, update); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("reconcile courier job %s", task.ProviderJobID), err)
			continue
		}
		polled++
	}
	return polled, nil
}

// updateTask persists the provider state, appending any replaced
// courier identity to the task's history so support can see past
// couriers.
func (s *Service) updateTask(ctx context.Context, task *models.CourierTask, update StatusUpdate) error {
	now := s.now().UTC()
	updates := map[string]any{
		"provider_status": update.Status,
		"updated_at":      now,
	}

	raw := task.RawStatus
	if raw == nil {
		raw = types.JSONMap{}
	}
	for key, value := range update.Raw {
		raw[key] = value
	}

	if update.CourierName != "" {
		if task.CourierName != nil && *task.CourierName != update.CourierName {
			history, _ := raw[models.CourierHistoryKey].([]any)
			entry := map[string]any{"name": *task.CourierName}
			if task.CourierPhone != nil {
				entry["phone"] = *task.CourierPhone
			}
			raw[models.CourierHistoryKey] = append(history, entry)
		}
		updates["courier_name"] = update.CourierName
	}
	if update.CourierPhone != "" {
		updates["courier_phone"] = update.CourierPhone
	}
	if update.TrackingURL != "" {
		updates["tracking_url"] = update.TrackingURL
	}
	if update.StatusAt != nil {
		updates["status_at"] = update.StatusAt.UTC()
	} else {
		updates["status_at"] = now
	}
	if update.Polled {
		updates["last_polled_at"] = now
	}
	updates["raw_status"] = raw

	if err := s.repo.UpdateTask(ctx, task.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update courier task")
	}
	return nil
}

func (s *Service) appendInfoEvent(ctx context.Context, order *models.Order, title, detail string) {
	event := &models.OrderEvent{
		OrderID: order.ID,
		Status:  order.Status,
		Title:   title,
		Detail:  detail,
		Actor:   enums.ActorSystem,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logg.Error(ctx, "append courier info event", err)
	}
}

func statusAtOrPastCourier(status enums.OrderStatus) bool {
	idx := lifecycle.Priority(enums.FulfillmentTypeDelivery, status)
	courierIdx := lifecycle.Priority(enums.FulfillmentTypeDelivery, enums.OrderStatusCourierRequested)
	return idx >= courierIdx
}

func orderReachedReady(order *models.Order) bool {
	idx := lifecycle.Priority(order.FulfillmentType, order.Status)
	readyIdx := lifecycle.Priority(order.FulfillmentType, enums.OrderStatusReady)
	return idx >= readyIdx
}

func courierDetail(update StatusUpdate) string {
	if update.Polled {
		return fmt.Sprintf("provider poll reported %s", update.Status)
	}
	return fmt.Sprintf("provider webhook reported %s", update.Status)
}

var _ lifecycle.ReadyNotifier = (*Service)(nil)

// TaskEnvironment reports which provider environment a task was
// dispatched in. Webhook handlers use it for thin-payload hydration.
func TaskEnvironment(task *models.CourierTask) enums.Environment {
	if task != nil && task.Live {
		return enums.EnvironmentProduction
	}
	return enums.EnvironmentTest
}

// FindTask exposes task lookup for webhook hydration.
func (s *Service) FindTask(ctx context.Context, providerJobID string) (*models.CourierTask, error) {
	return s.repo.FindTaskByProviderJob(ctx, providerJobID)
}

// Hydrate fetches the full provider snapshot for a thin payload.
func (s *Service) Hydrate(ctx context.Context, environment enums.Environment, providerJobID string) (*doordash.Delivery, error) {
	return s.gateway.GetDelivery(ctx, environment, providerJobID)
}
