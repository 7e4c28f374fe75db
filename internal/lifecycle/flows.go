package lifecycle

import (
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// pickupFlow and deliveryFlow are the ordered status progressions per
// fulfillment type. canceled and failed are absorbing and reachable
// from any non-terminal status, so they never appear in a flow.
var (
	pickupFlow = []enums.OrderStatus{
		enums.OrderStatusCreated,
		enums.OrderStatusAccepted,
		enums.OrderStatusInKitchen,
		enums.OrderStatusReady,
		enums.OrderStatusDelivered,
	}

	deliveryFlow = []enums.OrderStatus{
		enums.OrderStatusCreated,
		enums.OrderStatusAccepted,
		enums.OrderStatusInKitchen,
		enums.OrderStatusReady,
		enums.OrderStatusCourierRequested,
		enums.OrderStatusDriverEnRoute,
		enums.OrderStatusPickedUp,
		enums.OrderStatusDelivered,
	}
)

// Flow returns the ordered statuses for the fulfillment type.
func Flow(fulfillment enums.FulfillmentType) []enums.OrderStatus {
	if fulfillment == enums.FulfillmentTypeDelivery {
		return deliveryFlow
	}
	return pickupFlow
}

// Priority returns the numeric position of a status within the flow.
// Statuses outside the flow (canceled, failed) return -1.
func Priority(fulfillment enums.FulfillmentType, status enums.OrderStatus) int {
	for i, candidate := range Flow(fulfillment) {
		if candidate == status {
			return i
		}
	}
	return -1
}

// IsForward reports whether moving from one status to another is a
// legal transition: strictly forward along the flow, or into an
// absorbing state from any non-terminal status.
func IsForward(fulfillment enums.FulfillmentType, from, to enums.OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == enums.OrderStatusCanceled || to == enums.OrderStatusFailed {
		return true
	}
	fromIdx := Priority(fulfillment, from)
	toIdx := Priority(fulfillment, to)
	if fromIdx < 0 || toIdx < 0 {
		return false
	}
	return toIdx > fromIdx
}
