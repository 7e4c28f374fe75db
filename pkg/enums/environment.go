package enums

import "fmt"

// Environment selects which provider credentials a request uses.
// It is resolved per request (header or webhook secret match), never
// from a stored global default.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentTest       Environment = "test"
)

var validEnvironments = []Environment{
	EnvironmentProduction,
	EnvironmentTest,
}

// String implements fmt.Stringer.
func (e Environment) String() string {
	return string(e)
}

// IsValid reports whether the value is a known Environment.
func (e Environment) IsValid() bool {
	for _, candidate := range validEnvironments {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsProduction reports whether live provider credentials apply.
func (e Environment) IsProduction() bool {
	return e == EnvironmentProduction
}

// ParseEnvironment converts raw input into an Environment.
func ParseEnvironment(value string) (Environment, error) {
	for _, candidate := range validEnvironments {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid environment %q", value)
}
