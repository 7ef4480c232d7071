package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithPrefix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithPrefix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Round2 rounds a monetary amount to two decimal places. All invoice and
// wallet amounts in the pipeline pass through this helper so persisted
// amounts are always cent-exact.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// MustDecimal parses a decimal from its string form and panics on failure.
// Intended for constants and test fixtures, never for request input.
func MustDecimal(value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		panic(err)
	}
	return d
}
