package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// Repository defines persistence operations for the order aggregate.
// It doubles as the lifecycle transitioner's store: compare-and-set
// status writes and write-once metadata markers live here.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (bool, error)
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
	MarkMetadataOnce(ctx context.Context, orderID uuid.UUID, key string, value any) (bool, error)
	SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	// ListActiveOrders returns non-terminal orders created inside the
	// sweep window, oldest first, bounded to one page.
	ListActiveOrders(ctx context.Context, since time.Time, limit int) ([]models.Order, error)
	FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
}
