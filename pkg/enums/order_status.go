package enums

import "fmt"

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	OrderStatusCreated          OrderStatus = "created"
	OrderStatusAccepted         OrderStatus = "accepted"
	OrderStatusInKitchen        OrderStatus = "in_kitchen"
	OrderStatusReady            OrderStatus = "ready"
	OrderStatusCourierRequested OrderStatus = "courier_requested"
	OrderStatusDriverEnRoute    OrderStatus = "driver_en_route"
	OrderStatusPickedUp         OrderStatus = "picked_up"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCanceled         OrderStatus = "canceled"
	OrderStatusFailed           OrderStatus = "failed"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusAccepted,
	OrderStatusInKitchen,
	OrderStatusReady,
	OrderStatusCourierRequested,
	OrderStatusDriverEnRoute,
	OrderStatusPickedUp,
	OrderStatusDelivered,
	OrderStatusCanceled,
	OrderStatusFailed,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status absorbs all further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCanceled, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
