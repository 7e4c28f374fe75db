package lifecycle

import (
	"testing"
	"time"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

func TestComputeScheduleReadyOffsets(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prod := ComputeSchedule(enums.FulfillmentTypePickup, createdAt, enums.EnvironmentProduction)
	if got := prod[enums.OrderStatusReady]; !got.Equal(createdAt.Add(25 * time.Minute)) {
		t.Fatalf("production ready at %v, want +25m", got)
	}

	test := ComputeSchedule(enums.FulfillmentTypePickup, createdAt, enums.EnvironmentTest)
	if got := test[enums.OrderStatusReady]; !got.Equal(createdAt.Add(3 * time.Minute)) {
		t.Fatalf("test ready at %v, want +3m", got)
	}
}

func TestComputeScheduleCourierStepsAnchorToReady(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schedule := ComputeSchedule(enums.FulfillmentTypeDelivery, createdAt, enums.EnvironmentProduction)

	ready := schedule[enums.OrderStatusReady]
	if got := schedule[enums.OrderStatusCourierRequested]; !got.Equal(ready) {
		t.Fatalf("courier_requested at %v, want ready %v", got, ready)
	}
	if got := schedule[enums.OrderStatusDriverEnRoute]; !got.After(ready) {
		t.Fatalf("driver_en_route %v should be after ready %v", got, ready)
	}
}

func TestScheduleEncodeRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schedule := ComputeSchedule(enums.FulfillmentTypeDelivery, createdAt, enums.EnvironmentTest)

	metadata := types.JSONMap{models.MetaStatusSchedule: schedule.Encode()}
	parsed, err := ScheduleFromMetadata(metadata)
	if err != nil {
		t.Fatalf("parse schedule: %v", err)
	}
	if len(parsed) != len(schedule) {
		t.Fatalf("parsed %d entries, want %d", len(parsed), len(schedule))
	}
	for status, at := range schedule {
		if !parsed[status].Equal(at.Truncate(time.Second)) {
			t.Fatalf("status %s parsed %v want %v", status, parsed[status], at)
		}
	}
}

func TestScheduleFromMetadataAbsent(t *testing.T) {
	parsed, err := ScheduleFromMetadata(types.JSONMap{})
	if err != nil || parsed != nil {
		t.Fatalf("expected nil schedule for empty metadata, got %v err %v", parsed, err)
	}
}

func TestNextDueIsPure(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schedule := ComputeSchedule(enums.FulfillmentTypePickup, createdAt, enums.EnvironmentProduction)
	now := createdAt.Add(6 * time.Minute)

	first, ok1 := NextDue(enums.FulfillmentTypePickup, enums.OrderStatusAccepted, schedule, now)
	second, ok2 := NextDue(enums.FulfillmentTypePickup, enums.OrderStatusAccepted, schedule, now)
	if first != second || ok1 != ok2 {
		t.Fatalf("NextDue not deterministic: %v/%v vs %v/%v", first, ok1, second, ok2)
	}
	if !ok1 || first != enums.OrderStatusInKitchen {
		t.Fatalf("expected in_kitchen due, got %v %v", first, ok1)
	}
}

func TestNextDueStopsAtReadyForDelivery(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schedule := ComputeSchedule(enums.FulfillmentTypeDelivery, createdAt, enums.EnvironmentTest)

	// Hours past every scheduled time, but the clock must never push a
	// delivery order beyond ready.
	now := createdAt.Add(12 * time.Hour)
	if next, ok := NextDue(enums.FulfillmentTypeDelivery, enums.OrderStatusReady, schedule, now); ok {
		t.Fatalf("delivery order advanced past ready by the clock: %v", next)
	}

	next, ok := NextDue(enums.FulfillmentTypeDelivery, enums.OrderStatusInKitchen, schedule, now)
	if !ok || next != enums.OrderStatusReady {
		t.Fatalf("expected ready due, got %v %v", next, ok)
	}
}

func TestNextDueTerminalAndPickupDelivered(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schedule := ComputeSchedule(enums.FulfillmentTypePickup, createdAt, enums.EnvironmentTest)
	now := createdAt.Add(time.Hour)

	if _, ok := NextDue(enums.FulfillmentTypePickup, enums.OrderStatusCanceled, schedule, now); ok {
		t.Fatal("terminal status must never be due")
	}

	next, ok := NextDue(enums.FulfillmentTypePickup, enums.OrderStatusReady, schedule, now)
	if !ok || next != enums.OrderStatusDelivered {
		t.Fatalf("pickup orders complete by the clock, got %v %v", next, ok)
	}
}

func TestIsForward(t *testing.T) {
	ft := enums.FulfillmentTypeDelivery
	if !IsForward(ft, enums.OrderStatusAccepted, enums.OrderStatusInKitchen) {
		t.Fatal("forward step rejected")
	}
	if IsForward(ft, enums.OrderStatusReady, enums.OrderStatusAccepted) {
		t.Fatal("backward step allowed")
	}
	if !IsForward(ft, enums.OrderStatusDriverEnRoute, enums.OrderStatusCanceled) {
		t.Fatal("cancel from active state rejected")
	}
	if IsForward(ft, enums.OrderStatusDelivered, enums.OrderStatusCanceled) {
		t.Fatal("transition out of terminal state allowed")
	}
	if IsForward(enums.FulfillmentTypePickup, enums.OrderStatusReady, enums.OrderStatusCourierRequested) {
		t.Fatal("pickup order entered a courier status")
	}
}
