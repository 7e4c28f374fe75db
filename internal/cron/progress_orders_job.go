package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

const (
	defaultSweepWindow   = 24 * time.Hour
	defaultSweepPageSize = 100
)

type activeOrderLister interface {
	ListActiveOrders(ctx context.Context, since time.Time, limit int) ([]models.Order, error)
}

type orderProgressor interface {
	Advance(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// ProgressOrdersJobParams configure the order progression sweep.
type ProgressOrdersJobParams struct {
	Logger       *logger.Logger
	Orders       activeOrderLister
	Transitioner orderProgressor
	Window       time.Duration
	PageSize     int
	Now          func() time.Time
}

// progressOrdersJob is the durable fallback behind timers and
// webhooks: it re-derives due transitions from each order's persisted
// schedule, so a process restart or a dropped webhook never strands an
// order. Running it twice over the same page is harmless.
type progressOrdersJob struct {
	logg         *logger.Logger
	orders       activeOrderLister
	transitioner orderProgressor
	window       time.Duration
	pageSize     int
	now          func() time.Time
}

// NewProgressOrdersJob builds the cron job that advances active orders.
func NewProgressOrdersJob(params ProgressOrdersJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order lister required")
	}
	if params.Transitioner == nil {
		return nil, fmt.Errorf("transitioner required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultSweepWindow
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &progressOrdersJob{
		logg:         params.Logger,
		orders:       params.Orders,
		transitioner: params.Transitioner,
		window:       window,
		pageSize:     pageSize,
		now:          now,
	}, nil
}

func (j *progressOrdersJob) Name() string { return "progress_orders" }

func (j *progressOrdersJob) Run(ctx context.Context) error {
	since := j.now().Add(-j.window)
	active, err := j.orders.ListActiveOrders(ctx, since, j.pageSize)
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}

	var failures error
	advanced := 0
	for i := range active {
		order := &active[i]
		if _, err := j.transitioner.Advance(ctx, order.ID); err != nil {
			orderCtx := j.logg.WithOrderID(ctx, order.ID.String())
			j.logg.Error(orderCtx, "advance order", err)
			failures = multierr.Append(failures, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		advanced++
	}

	j.logg.Info(ctx, fmt.Sprintf("order sweep: %d active, %d advanced", len(active), advanced))
	return failures
}
