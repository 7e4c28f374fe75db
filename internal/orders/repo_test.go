package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  fulfillment_type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'created',
  payment_status TEXT NOT NULL DEFAULT 'unpaid',
  subtotal_cents INTEGER NOT NULL,
  tax_cents INTEGER NOT NULL DEFAULT 0,
  tip_cents INTEGER NOT NULL DEFAULT 0,
  delivery_fee_cents INTEGER NOT NULL DEFAULT 0,
  service_fee_cents INTEGER NOT NULL DEFAULT 0,
  discount_cents INTEGER NOT NULL DEFAULT 0,
  total_cents INTEGER NOT NULL,
  contact TEXT,
  delivery_address TEXT,
  metadata TEXT,
  payment_intent_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  menu_item_id TEXT,
  name TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  quantity INTEGER NOT NULL,
  modifiers TEXT,
  total_cents INTEGER NOT NULL,
  created_at DATETIME
);`,
		`CREATE TABLE order_events (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  status TEXT NOT NULL,
  title TEXT NOT NULL,
  detail TEXT,
  actor TEXT NOT NULL DEFAULT 'system',
  metadata TEXT,
  created_at DATETIME
);`,
		`CREATE TABLE courier_tasks (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  provider_job_id TEXT NOT NULL,
  provider_status TEXT NOT NULL DEFAULT 'pending',
  tracking_url TEXT,
  live INTEGER NOT NULL DEFAULT 0,
  courier_name TEXT,
  courier_phone TEXT,
  raw_status TEXT,
  last_polled_at DATETIME,
  status_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, statement := range statements {
		require.NoError(t, db.Exec(statement).Error)
	}
	return db
}

func seedOrder(t *testing.T, repo Repository, status enums.OrderStatus, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		FulfillmentType: enums.FulfillmentTypePickup,
		Status:          status,
		PaymentStatus:   enums.PaymentStatusPaid,
		SubtotalCents:   2000,
		TaxCents:        175,
		TotalCents:      2175,
		Contact:         types.Contact{Name: "Dana", Email: "dana@example.com"},
		Metadata:        types.JSONMap{models.MetaEnvironment: "test"},
		Items: []models.OrderItem{
			{ID: uuid.New(), Name: "Margherita", UnitPriceCents: 2000, Quantity: 1, TotalCents: 2000},
		},
		CreatedAt: createdAt,
	}
	created, err := repo.CreateOrder(context.Background(), order)
	require.NoError(t, err)
	return created
}

func TestUpdateStatusCompareAndSet(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	order := seedOrder(t, repo, enums.OrderStatusCreated, time.Now().UTC())

	won, err := repo.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCreated, enums.OrderStatusAccepted)
	require.NoError(t, err)
	assert.True(t, won)

	// The same expected-from no longer matches.
	won, err = repo.UpdateStatus(context.Background(), order.ID, enums.OrderStatusCreated, enums.OrderStatusInKitchen)
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAccepted, stored.Status)
}

func TestMarkMetadataOnceIsWriteOnce(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	order := seedOrder(t, repo, enums.OrderStatusCreated, time.Now().UTC())

	won, err := repo.MarkMetadataOnce(context.Background(), order.ID, "notified_ready", "2026-08-30T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkMetadataOnce(context.Background(), order.ID, "notified_ready", "2026-08-30T13:00:00Z")
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	value, ok := stored.Metadata.GetString("notified_ready")
	require.True(t, ok)
	assert.Equal(t, "2026-08-30T12:00:00Z", value)
	// Pre-existing keys survive the update.
	_, ok = stored.Metadata.GetString(models.MetaEnvironment)
	assert.True(t, ok)
}

func TestMarkMetadataOnceDistinctKeysBothSurvive(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	order := seedOrder(t, repo, enums.OrderStatusCreated, time.Now().UTC())

	won, err := repo.MarkMetadataOnce(context.Background(), order.ID, models.MetaReadyNotifiedAt, "2026-08-30T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkMetadataOnce(context.Background(), order.ID, "notified_courier_requested", "2026-08-30T12:05:00Z")
	require.NoError(t, err)
	assert.True(t, won)

	// Marking the second key must not erase the first marker.
	stored, err := repo.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	_, ok := stored.Metadata.GetString(models.MetaReadyNotifiedAt)
	assert.True(t, ok)
	_, ok = stored.Metadata.GetString("notified_courier_requested")
	assert.True(t, ok)
	_, ok = stored.Metadata.GetString(models.MetaEnvironment)
	assert.True(t, ok)
}

func TestMarkMetadataOnceMissingOrder(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))

	_, err := repo.MarkMetadataOnce(context.Background(), uuid.New(), models.MetaReadyNotifiedAt, "2026-08-30T12:00:00Z")
	require.Error(t, err)
}

func TestAppendEventPreservesOrder(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	order := seedOrder(t, repo, enums.OrderStatusCreated, time.Now().UTC())

	first := &models.OrderEvent{ID: uuid.New(), OrderID: order.ID, Status: enums.OrderStatusCreated, Title: "Order placed", CreatedAt: time.Now().UTC()}
	second := &models.OrderEvent{ID: uuid.New(), OrderID: order.ID, Status: enums.OrderStatusAccepted, Title: "Order accepted", Actor: enums.ActorSystem, CreatedAt: time.Now().UTC().Add(time.Second)}
	require.NoError(t, repo.AppendEvent(context.Background(), first))
	require.NoError(t, repo.AppendEvent(context.Background(), second))

	stored, err := repo.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Events, 2)
	assert.Equal(t, "Order placed", stored.Events[0].Title)
	assert.Equal(t, "Order accepted", stored.Events[1].Title)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Margherita", stored.Items[0].Name)
}

func TestListActiveOrdersBoundsWindowAndPage(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	now := time.Now().UTC()

	inWindow := seedOrder(t, repo, enums.OrderStatusAccepted, now.Add(-time.Hour))
	seedOrder(t, repo, enums.OrderStatusDelivered, now.Add(-time.Hour))
	seedOrder(t, repo, enums.OrderStatusCanceled, now.Add(-time.Hour))
	seedOrder(t, repo, enums.OrderStatusInKitchen, now.Add(-48*time.Hour))

	active, err := repo.ListActiveOrders(context.Background(), now.Add(-24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, inWindow.ID, active[0].ID)

	// Page size caps the sweep.
	for range 3 {
		seedOrder(t, repo, enums.OrderStatusAccepted, now.Add(-time.Minute))
	}
	active, err = repo.ListActiveOrders(context.Background(), now.Add(-24*time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestFindOrderByPaymentIntent(t *testing.T) {
	repo := NewRepository(setupOrdersTestDB(t))
	order := seedOrder(t, repo, enums.OrderStatusCreated, time.Now().UTC())

	intentID := "pi_123"
	require.NoError(t, repo.UpdateOrder(context.Background(), order.ID, map[string]any{"payment_intent_id": intentID}))

	found, err := repo.FindOrderByPaymentIntent(context.Background(), intentID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = repo.FindOrderByPaymentIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
