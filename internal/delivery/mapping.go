package delivery

import (
	"strings"

	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// candidateOrderStatus maps a provider job state onto the order status
// it argues for. The guard pipeline decides whether the argument wins.
func candidateOrderStatus(status enums.CourierTaskStatus) (enums.OrderStatus, bool) {
	switch status {
	case enums.CourierTaskStatusPending:
		return enums.OrderStatusCourierRequested, true
	case enums.CourierTaskStatusPickup:
		return enums.OrderStatusDriverEnRoute, true
	case enums.CourierTaskStatusPickupComplete, enums.CourierTaskStatusDropoff:
		return enums.OrderStatusPickedUp, true
	case enums.CourierTaskStatusCompleted:
		return enums.OrderStatusDelivered, true
	case enums.CourierTaskStatusCancelled:
		return enums.OrderStatusCanceled, true
	default:
		return "", false
	}
}

// courierOnlyReasons are provider cancellation reasons meaning the
// assigned courier dropped the job. The provider reassigns on its own,
// so the order itself must not cancel.
var courierOnlyReasons = map[string]bool{
	"dasher_cancelled":     true,
	"courier_cancelled":    true,
	"dasher_unassigned":    true,
	"courier_reassignment": true,
}

// isCourierOnlyCancellation classifies a provider cancellation reason.
// Unknown reasons are treated as order cancellations: failing closed
// would leave a canceled delivery looking active forever.
func isCourierOnlyCancellation(reason string) bool {
	return courierOnlyReasons[strings.ToLower(strings.TrimSpace(reason))]
}
