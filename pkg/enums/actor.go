package enums

import "fmt"

// Actor identifies who triggered an order event.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
	ActorSystem   Actor = "system"
	ActorStripe   Actor = "stripe"
)

var validActors = []Actor{
	ActorCustomer,
	ActorAdmin,
	ActorSystem,
	ActorStripe,
}

// String implements fmt.Stringer.
func (a Actor) String() string {
	return string(a)
}

// IsValid reports whether the value is a known Actor.
func (a Actor) IsValid() bool {
	for _, candidate := range validActors {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActor converts raw input into an Actor.
func ParseActor(value string) (Actor, error) {
	for _, candidate := range validActors {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor %q", value)
}
