package enums

import "fmt"

// LoyaltyEntryType maps to the loyalty_entry_type enum in Postgres.
type LoyaltyEntryType string

const (
	LoyaltyEntryTypePurchase     LoyaltyEntryType = "purchase"
	LoyaltyEntryTypeCancellation LoyaltyEntryType = "cancellation"
	LoyaltyEntryTypeAdjustment   LoyaltyEntryType = "adjustment"
)

var validLoyaltyEntryTypes = []LoyaltyEntryType{
	LoyaltyEntryTypePurchase,
	LoyaltyEntryTypeCancellation,
	LoyaltyEntryTypeAdjustment,
}

// IsValid reports whether the value matches the canonical loyalty entry enum.
func (t LoyaltyEntryType) IsValid() bool {
	for _, candidate := range validLoyaltyEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLoyaltyEntryType converts raw input into LoyaltyEntryType.
func ParseLoyaltyEntryType(value string) (LoyaltyEntryType, error) {
	for _, candidate := range validLoyaltyEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loyalty entry type %q", value)
}
