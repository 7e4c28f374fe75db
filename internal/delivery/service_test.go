package delivery

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/internal/lifecycle"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

type fakeGateway struct {
	deliveries map[string]*doordash.Delivery
	created    []doordash.DeliveryRequest
	readied    []string
	cancelled  []string
	getErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{deliveries: map[string]*doordash.Delivery{}}
}

func (g *fakeGateway) CreateQuote(_ context.Context, _ enums.Environment, req doordash.QuoteRequest) (*doordash.Quote, error) {
	return &doordash.Quote{ExternalDeliveryID: req.ExternalDeliveryID, FeeCents: 599, Currency: "usd"}, nil
}

func (g *fakeGateway) CreateDelivery(_ context.Context, _ enums.Environment, req doordash.DeliveryRequest) (*doordash.Delivery, error) {
	g.created = append(g.created, req)
	job := &doordash.Delivery{
		ExternalDeliveryID: req.ExternalDeliveryID,
		Status:             "pending",
		TrackingURL:        "https://track.example/" + req.ExternalDeliveryID,
	}
	g.deliveries[req.ExternalDeliveryID] = job
	return job, nil
}

func (g *fakeGateway) GetDelivery(_ context.Context, _ enums.Environment, id string) (*doordash.Delivery, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	job, ok := g.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	return job, nil
}

func (g *fakeGateway) MarkPickupReady(_ context.Context, _ enums.Environment, id string) (*doordash.Delivery, error) {
	g.readied = append(g.readied, id)
	return g.deliveries[id], nil
}

func (g *fakeGateway) CancelDelivery(_ context.Context, _ enums.Environment, id string) (*doordash.Delivery, error) {
	g.cancelled = append(g.cancelled, id)
	if job, ok := g.deliveries[id]; ok {
		job.Status = "cancelled"
		return job, nil
	}
	return &doordash.Delivery{ExternalDeliveryID: id, Status: "cancelled"}, nil
}

type fakeRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.CourierTask
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tasks: map[uuid.UUID]*models.CourierTask{}}
}

func (r *fakeRepo) WithTx(_ *gorm.DB) Repository { return r }

func (r *fakeRepo) CreateTask(_ context.Context, task *models.CourierTask) (*models.CourierTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task.ID = uuid.New()
	r.tasks[task.ID] = task
	return task, nil
}

func (r *fakeRepo) FindTaskByOrder(_ context.Context, orderID uuid.UUID) (*models.CourierTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range r.tasks {
		if task.OrderID == orderID {
			return task, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindTaskByProviderJob(_ context.Context, providerJobID string) (*models.CourierTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range r.tasks {
		if task.ProviderJobID == providerJobID {
			return task, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpdateTask(_ context.Context, taskID uuid.UUID, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for key, value := range updates {
		switch key {
		case "provider_status":
			task.ProviderStatus = value.(enums.CourierTaskStatus)
		case "courier_name":
			name := value.(string)
			task.CourierName = &name
		case "courier_phone":
			phone := value.(string)
			task.CourierPhone = &phone
		case "tracking_url":
			tracking := value.(string)
			task.TrackingURL = &tracking
		case "raw_status":
			task.RawStatus = value.(types.JSONMap)
		case "status_at":
			at := value.(time.Time)
			task.StatusAt = &at
		case "last_polled_at":
			at := value.(time.Time)
			task.LastPolledAt = &at
		case "updated_at":
			task.UpdatedAt = value.(time.Time)
		}
	}
	return nil
}

func (r *fakeRepo) ListStaleActiveTasks(_ context.Context, cutoff time.Time, limit int) ([]models.CourierTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stale := []models.CourierTask{}
	for _, task := range r.tasks {
		if len(stale) >= limit {
			break
		}
		if task.LastPolledAt == nil || task.LastPolledAt.Before(cutoff) {
			stale = append(stale, *task)
		}
	}
	return stale, nil
}

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	events []models.OrderEvent
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[uuid.UUID]*models.Order{}}
}

func (s *fakeOrderStore) put(order *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

func (s *fakeOrderStore) FindOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *order
	return &clone, nil
}

func (s *fakeOrderStore) UpdateStatus(_ context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	return true, nil
}

func (s *fakeOrderStore) AppendEvent(_ context.Context, event *models.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *fakeOrderStore) MarkMetadataOnce(_ context.Context, orderID uuid.UUID, key string, value any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if order.Metadata == nil {
		order.Metadata = types.JSONMap{}
	}
	if _, exists := order.Metadata[key]; exists {
		return false, nil
	}
	order.Metadata[key] = value
	return true, nil
}

func (s *fakeOrderStore) eventTitles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	titles := make([]string, 0, len(s.events))
	for _, event := range s.events {
		titles = append(titles, event.Title)
	}
	return titles
}

type deliveryFixture struct {
	service *Service
	gateway *fakeGateway
	repo    *fakeRepo
	store   *fakeOrderStore
}

func newDeliveryFixture(t *testing.T) *deliveryFixture {
	t.Helper()

	gateway := newFakeGateway()
	repo := newFakeRepo()
	store := newFakeOrderStore()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	transitioner, err := lifecycle.NewTransitioner(lifecycle.TransitionerParams{
		Store:  store,
		Logger: logg,
	})
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		Gateway:      gateway,
		Repo:         repo,
		Store:        store,
		Transitioner: transitioner,
		Logger:       logg,
		Pickup: config.PickupLocation{
			BusinessName: "Tavola Trattoria",
			Address:      "12 Mulberry St, New York, NY 10013",
			Phone:        "+12125550100",
		},
	})
	require.NoError(t, err)

	return &deliveryFixture{service: service, gateway: gateway, repo: repo, store: store}
}

func (f *deliveryFixture) seedOrder(t *testing.T, status enums.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		FulfillmentType: enums.FulfillmentTypeDelivery,
		Status:          status,
		TotalCents:      4200,
		SubtotalCents:   4200,
		Contact: types.Contact{
			Name:  "Dana",
			Phone: "+12125550199",
			Email: "dana@example.com",
		},
		DeliveryAddress: &types.Address{
			Line1:      "99 Prince St",
			City:       "New York",
			State:      "NY",
			PostalCode: "10012",
			Country:    "US",
			Lat:        40.724,
			Lng:        -73.997,
		},
		Metadata:  types.JSONMap{models.MetaEnvironment: enums.EnvironmentTest.String()},
		CreatedAt: time.Now().UTC(),
	}
	f.store.put(order)
	return order
}

func (f *deliveryFixture) seedTask(t *testing.T, order *models.Order) *models.CourierTask {
	t.Helper()
	task, err := f.repo.CreateTask(context.Background(), &models.CourierTask{
		OrderID:        order.ID,
		ProviderJobID:  order.ID.String(),
		ProviderStatus: enums.CourierTaskStatusPending,
		RawStatus:      types.JSONMap{},
	})
	require.NoError(t, err)
	return task
}

func TestDispatchCreatesTaskFromProviderJob(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusCreated)

	task, err := f.service.Dispatch(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, order.ID, task.OrderID)
	assert.Equal(t, order.ID.String(), task.ProviderJobID)
	assert.Equal(t, enums.CourierTaskStatusPending, task.ProviderStatus)
	assert.False(t, task.Live)
	require.NotNil(t, task.TrackingURL)

	require.Len(t, f.gateway.created, 1)
	req := f.gateway.created[0]
	assert.Equal(t, "12 Mulberry St, New York, NY 10013", req.PickupAddress)
	assert.Equal(t, "+12125550199", req.DropoffPhoneNumber)
	assert.Equal(t, 4200, req.OrderValue)
}

func TestDispatchRejectsIncompleteAddress(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusCreated)
	order.DeliveryAddress = &types.Address{Line1: "99 Prince St"}

	_, err := f.service.Dispatch(context.Background(), order)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid address")
}

func TestProcessUpdateAdvancesOrderWithCourier(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusCourierRequested)
	task := f.seedTask(t, order)

	err := f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID: task.ProviderJobID,
		Status:        enums.CourierTaskStatusPickup,
		CourierName:   "Ana",
		CourierPhone:  "+12125550111",
	})
	require.NoError(t, err)

	stored, err := f.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDriverEnRoute, stored.Status)

	updated, err := f.repo.FindTaskByProviderJob(context.Background(), task.ProviderJobID)
	require.NoError(t, err)
	assert.Equal(t, enums.CourierTaskStatusPickup, updated.ProviderStatus)
	require.NotNil(t, updated.CourierName)
	assert.Equal(t, "Ana", *updated.CourierName)
}

func TestProcessUpdateSuppressedBeforeKitchenReady(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusInKitchen)
	task := f.seedTask(t, order)

	err := f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID: task.ProviderJobID,
		Status:        enums.CourierTaskStatusPickupComplete,
	})
	require.NoError(t, err)

	// The order must not jump past the kitchen.
	stored, err := f.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusInKitchen, stored.Status)

	// But the task reflects provider reality and the jump is recorded.
	updated, err := f.repo.FindTaskByProviderJob(context.Background(), task.ProviderJobID)
	require.NoError(t, err)
	assert.Equal(t, enums.CourierTaskStatusPickupComplete, updated.ProviderStatus)
	assert.Contains(t, f.store.eventTitles(), "Courier update before kitchen ready")
}

func TestProcessUpdateCourierCancellationNeverCancelsOrder(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDriverEnRoute)
	task := f.seedTask(t, order)

	err := f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID:      task.ProviderJobID,
		Status:             enums.CourierTaskStatusCancelled,
		CancellationReason: "dasher_cancelled",
	})
	require.NoError(t, err)

	stored, err := f.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDriverEnRoute, stored.Status)
	assert.Contains(t, f.store.eventTitles(), "Courier reassigned")
}

func TestProcessUpdateUnknownCancellationCancelsOrder(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDriverEnRoute)
	task := f.seedTask(t, order)

	err := f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID:      task.ProviderJobID,
		Status:             enums.CourierTaskStatusCancelled,
		CancellationReason: "customer_requested",
	})
	require.NoError(t, err)

	stored, err := f.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, stored.Status)
}

func TestProcessUpdateRejectsBackwardStatus(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDelivered)
	task := f.seedTask(t, order)

	err := f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID: task.ProviderJobID,
		Status:        enums.CourierTaskStatusPickup,
	})
	require.NoError(t, err)

	stored, err := f.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, stored.Status)
}

func TestProcessUpdateAppendsCourierHistory(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusCourierRequested)
	task := f.seedTask(t, order)

	require.NoError(t, f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID: task.ProviderJobID,
		Status:        enums.CourierTaskStatusPickup,
		CourierName:   "Ana",
		CourierPhone:  "+12125550111",
	}))
	require.NoError(t, f.service.ProcessUpdate(context.Background(), StatusUpdate{
		ProviderJobID: task.ProviderJobID,
		Status:        enums.CourierTaskStatusPickup,
		CourierName:   "Ben",
		CourierPhone:  "+12125550122",
	}))

	updated, err := f.repo.FindTaskByProviderJob(context.Background(), task.ProviderJobID)
	require.NoError(t, err)
	require.NotNil(t, updated.CourierName)
	assert.Equal(t, "Ben", *updated.CourierName)

	history, ok := updated.RawStatus[models.CourierHistoryKey].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	prior := history[0].(map[string]any)
	assert.Equal(t, "Ana", prior["name"])
}

func TestNotifyReadyMarksPickupReady(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusReady)
	task := f.seedTask(t, order)

	require.NoError(t, f.service.NotifyReady(context.Background(), order))
	require.Len(t, f.gateway.readied, 1)
	assert.Equal(t, task.ProviderJobID, f.gateway.readied[0])
}

func TestCancelSkipsTerminalTask(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusCanceled)
	task := f.seedTask(t, order)
	require.NoError(t, f.repo.UpdateTask(context.Background(), task.ID, map[string]any{
		"provider_status": enums.CourierTaskStatusCompleted,
	}))

	require.NoError(t, f.service.Cancel(context.Background(), order))
	assert.Empty(t, f.gateway.cancelled)
}

func TestCancelRequestsProviderCancellation(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAccepted)
	task := f.seedTask(t, order)

	require.NoError(t, f.service.Cancel(context.Background(), order))
	require.Len(t, f.gateway.cancelled, 1)
	assert.Equal(t, task.ProviderJobID, f.gateway.cancelled[0])

	updated, err := f.repo.FindTaskByProviderJob(context.Background(), task.ProviderJobID)
	require.NoError(t, err)
	assert.Equal(t, enums.CourierTaskStatusCancelled, updated.ProviderStatus)
}

func TestPollStaleFeedsGuardPipeline(t *testing.T) {
	f := newDeliveryFixture(t)
	order := f.seedOrder(t, enums.OrderStatusCourierRequested)
	task := f.seedTask(t, order)
	f.gateway.deliveries[task.ProviderJobID] = &doordash.Delivery{
		ExternalDeliveryID: task.ProviderJobID,
		Status:             "pickup",
		CourierName:        "Ana",
	}

	polled, err := f.service.PollStale(context.Background(), time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, polled)

	stored, err := f.store.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDriverEnRoute, stored.Status)

	updated, err := f.repo.FindTaskByProviderJob(context.Background(), task.ProviderJobID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastPolledAt)
}

func TestQuoteRejectsIncompleteAddress(t *testing.T) {
	f := newDeliveryFixture(t)
	_, err := f.service.Quote(context.Background(), enums.EnvironmentTest, "q-1", types.Address{City: "New York"}, 4200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid address")
}
