package enums

import "fmt"

// CourierTaskStatus mirrors the delivery provider's job states.
type CourierTaskStatus string

const (
	CourierTaskStatusPending        CourierTaskStatus = "pending"
	CourierTaskStatusPickup         CourierTaskStatus = "pickup"
	CourierTaskStatusPickupComplete CourierTaskStatus = "pickup_complete"
	CourierTaskStatusDropoff        CourierTaskStatus = "dropoff"
	CourierTaskStatusCompleted      CourierTaskStatus = "completed"
	CourierTaskStatusCancelled      CourierTaskStatus = "cancelled"
)

var validCourierTaskStatuses = []CourierTaskStatus{
	CourierTaskStatusPending,
	CourierTaskStatusPickup,
	CourierTaskStatusPickupComplete,
	CourierTaskStatusDropoff,
	CourierTaskStatusCompleted,
	CourierTaskStatusCancelled,
}

// String implements fmt.Stringer.
func (s CourierTaskStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CourierTaskStatus.
func (s CourierTaskStatus) IsValid() bool {
	for _, candidate := range validCourierTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the provider job can still change.
func (s CourierTaskStatus) IsTerminal() bool {
	return s == CourierTaskStatusCompleted || s == CourierTaskStatusCancelled
}

// ParseCourierTaskStatus converts raw input into a CourierTaskStatus.
func ParseCourierTaskStatus(value string) (CourierTaskStatus, error) {
	for _, candidate := range validCourierTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid courier task status %q", value)
}
