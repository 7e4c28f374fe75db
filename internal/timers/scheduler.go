package timers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/internal/lifecycle"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

const defaultMaxDelay = 2 * time.Hour

type progressor interface {
	Advance(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// SchedulerParams configure the in-process timer scheduler.
type SchedulerParams struct {
	Transitioner progressor
	Logger       *logger.Logger
	MaxDelay     time.Duration
	Now          func() time.Time
}

// Scheduler arms one in-process timer per future schedule step. Timers
// are a latency optimization over the cron sweep, not a durability
// mechanism: they die with the process and are capped at MaxDelay, and
// the sweep re-derives anything they miss. Firing is harmless when the
// order already moved, since Advance re-reads state before acting.
type Scheduler struct {
	transitioner progressor
	logg         *logger.Logger
	maxDelay     time.Duration
	now          func() time.Time

	mu      sync.Mutex
	armed   map[uuid.UUID]*armedSet
	stopped bool
}

// armedSet holds one arming generation for an order. Fired timers
// decrement pending so the order's entry is pruned once the last one
// runs; a stale generation never touches its replacement.
type armedSet struct {
	timers  []*time.Timer
	pending int
}

// NewScheduler validates dependencies and builds a Scheduler.
func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Transitioner == nil {
		return nil, errors.New("transitioner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	maxDelay := params.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		transitioner: params.Transitioner,
		logg:         params.Logger,
		maxDelay:     maxDelay,
		now:          now,
		armed:        map[uuid.UUID]*armedSet{},
	}, nil
}

// ArmSchedule sets a timer for every schedule step still in the
// future. Steps beyond MaxDelay are skipped; the cron sweep picks them
// up. Re-arming an order replaces its previous timers.
func (s *Scheduler) ArmSchedule(orderID uuid.UUID, schedule lifecycle.Schedule) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if previous, ok := s.armed[orderID]; ok {
		for _, timer := range previous.timers {
			timer.Stop()
		}
		delete(s.armed, orderID)
	}

	set := &armedSet{}
	for _, at := range schedule {
		delay := at.Sub(now)
		if delay <= 0 || delay > s.maxDelay {
			continue
		}
		timer := time.AfterFunc(delay, func() { s.fire(orderID, set) })
		set.timers = append(set.timers, timer)
		set.pending++
	}
	if set.pending > 0 {
		s.armed[orderID] = set
	}
}

func (s *Scheduler) fire(orderID uuid.UUID, set *armedSet) {
	s.mu.Lock()
	set.pending--
	if set.pending <= 0 && s.armed[orderID] == set {
		delete(s.armed, orderID)
	}
	s.mu.Unlock()

	ctx := s.logg.WithOrderID(context.Background(), orderID.String())
	if _, err := s.transitioner.Advance(ctx, orderID); err != nil {
		s.logg.Error(ctx, "timer-driven progression", err)
	}
}

// Disarm drops an order's pending timers, used when the order reaches
// a terminal state early.
func (s *Scheduler) Disarm(orderID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.armed[orderID]; ok {
		for _, timer := range set.timers {
			timer.Stop()
		}
		delete(s.armed, orderID)
	}
}

// Stop cancels every pending timer. The scheduler accepts no new work
// afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, set := range s.armed {
		for _, timer := range set.timers {
			timer.Stop()
		}
	}
	s.armed = map[uuid.UUID]*armedSet{}
}
