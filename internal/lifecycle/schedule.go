package lifecycle

import (
	"fmt"
	"time"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// Schedule maps each flow status to the moment it becomes due. It is
// computed once per order and persisted verbatim; every progression
// path (cron, timer, read-triggered) consults the stored copy so
// re-running never produces different target times.
type Schedule map[enums.OrderStatus]time.Time

// timingProfile holds per-step offsets. Kitchen steps are relative to
// order creation; courier steps are relative to the ready timestamp so
// a slow kitchen does not shrink the delivery window.
type timingProfile struct {
	accepted  time.Duration
	inKitchen time.Duration
	ready     time.Duration

	courierRequested time.Duration
	driverEnRoute    time.Duration
	pickedUp         time.Duration
	delivered        time.Duration

	pickupDelivered time.Duration
}

var (
	productionProfile = timingProfile{
		accepted:  0,
		inKitchen: 5 * time.Minute,
		ready:     25 * time.Minute,

		courierRequested: 0,
		driverEnRoute:    5 * time.Minute,
		pickedUp:         12 * time.Minute,
		delivered:        25 * time.Minute,

		pickupDelivered: 20 * time.Minute,
	}

	// Sandbox orders progress fast so test runs do not wait on
	// kitchen-scale timings.
	testProfile = timingProfile{
		accepted:  0,
		inKitchen: time.Minute,
		ready:     3 * time.Minute,

		courierRequested: 0,
		driverEnRoute:    30 * time.Second,
		pickedUp:         time.Minute,
		delivered:        2 * time.Minute,

		pickupDelivered: time.Minute,
	}
)

// ComputeSchedule derives the per-order schedule. Pure function of the
// fulfillment type, creation time, and environment.
func ComputeSchedule(fulfillment enums.FulfillmentType, createdAt time.Time, environment enums.Environment) Schedule {
	profile := productionProfile
	if !environment.IsProduction() {
		profile = testProfile
	}

	ready := createdAt.Add(profile.ready)
	schedule := Schedule{
		enums.OrderStatusCreated:   createdAt,
		enums.OrderStatusAccepted:  createdAt.Add(profile.accepted),
		enums.OrderStatusInKitchen: createdAt.Add(profile.inKitchen),
		enums.OrderStatusReady:     ready,
	}

	if fulfillment == enums.FulfillmentTypeDelivery {
		schedule[enums.OrderStatusCourierRequested] = ready.Add(profile.courierRequested)
		schedule[enums.OrderStatusDriverEnRoute] = ready.Add(profile.driverEnRoute)
		schedule[enums.OrderStatusPickedUp] = ready.Add(profile.pickedUp)
		schedule[enums.OrderStatusDelivered] = ready.Add(profile.delivered)
	} else {
		schedule[enums.OrderStatusDelivered] = ready.Add(profile.pickupDelivered)
	}

	return schedule
}

// Encode renders the schedule as a metadata-storable map of RFC3339
// timestamps keyed by status.
func (s Schedule) Encode() map[string]any {
	out := make(map[string]any, len(s))
	for status, at := range s {
		out[status.String()] = at.UTC().Format(time.RFC3339)
	}
	return out
}

// ScheduleFromMetadata reads the persisted schedule out of the order
// metadata. Returns nil with no error when none is stored yet.
func ScheduleFromMetadata(metadata types.JSONMap) (Schedule, error) {
	raw, ok := metadata[models.MetaStatusSchedule]
	if !ok || raw == nil {
		return nil, nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("malformed status schedule: %T", raw)
	}

	schedule := make(Schedule, len(entries))
	for key, value := range entries {
		status, err := enums.ParseOrderStatus(key)
		if err != nil {
			return nil, fmt.Errorf("malformed status schedule: %w", err)
		}
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("malformed status schedule entry %q: %T", key, value)
		}
		at, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return nil, fmt.Errorf("malformed status schedule entry %q: %w", key, err)
		}
		schedule[status] = at
	}
	return schedule, nil
}

// NextDue returns the next flow status whose scheduled time has
// passed. For delivery orders only statuses up to and including ready
// are clock-eligible: everything after ready must come from provider
// webhooks or poll reconciliation, never from the schedule.
func NextDue(fulfillment enums.FulfillmentType, current enums.OrderStatus, schedule Schedule, now time.Time) (enums.OrderStatus, bool) {
	if current.IsTerminal() || len(schedule) == 0 {
		return "", false
	}

	flow := Flow(fulfillment)
	currentIdx := Priority(fulfillment, current)
	if currentIdx < 0 || currentIdx+1 >= len(flow) {
		return "", false
	}

	next := flow[currentIdx+1]
	if fulfillment == enums.FulfillmentTypeDelivery {
		readyIdx := Priority(fulfillment, enums.OrderStatusReady)
		if currentIdx+1 > readyIdx {
			return "", false
		}
	}

	due, ok := schedule[next]
	if !ok || due.After(now) {
		return "", false
	}
	return next, true
}
