package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tavolahq/tavola-backend/pkg/logger"
)

const (
	defaultStaleAfter = time.Minute
	defaultPollLimit  = 100
)

type stalePoller interface {
	PollStale(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

// StaleCourierPollJobParams configure the courier poll fallback.
type StaleCourierPollJobParams struct {
	Logger     *logger.Logger
	Poller     stalePoller
	StaleAfter time.Duration
	Limit      int
}

// staleCourierPollJob re-fetches provider state for active courier
// tasks that have gone quiet. It is the self-healing path for dropped
// delivery webhooks; results go through the same guard pipeline.
type staleCourierPollJob struct {
	logg       *logger.Logger
	poller     stalePoller
	staleAfter time.Duration
	limit      int
}

// NewStaleCourierPollJob builds the cron job that polls quiet courier tasks.
func NewStaleCourierPollJob(params StaleCourierPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Poller == nil {
		return nil, fmt.Errorf("stale poller required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPollLimit
	}
	return &staleCourierPollJob{
		logg:       params.Logger,
		poller:     params.Poller,
		staleAfter: staleAfter,
		limit:      limit,
	}, nil
}

func (j *staleCourierPollJob) Name() string { return "stale_courier_poll" }

func (j *staleCourierPollJob) Run(ctx context.Context) error {
	polled, err := j.poller.PollStale(ctx, j.staleAfter, j.limit)
	if err != nil {
		return fmt.Errorf("poll stale courier tasks: %w", err)
	}
	if polled > 0 {
		j.logg.Info(ctx, fmt.Sprintf("courier poll: refreshed %d stale tasks", polled))
	}
	return nil
}
