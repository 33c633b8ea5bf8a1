package shared

import "github.com/shopspring/decimal"

// MinorUnitScale is the number of decimal places of the currency's minor unit.
const MinorUnitScale = 2

// IsMinorUnitPrecise reports whether the amount is representable in minor units.
func IsMinorUnitPrecise(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(MinorUnitScale))
}

// ValidatePositiveAmount rejects non-positive amounts and sub-minor-unit precision.
func ValidatePositiveAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validation("%s must be positive", field)
	}
	if !IsMinorUnitPrecise(amount) {
		return Validation("%s must have at most %d decimal places", field, MinorUnitScale)
	}
	return nil
}
