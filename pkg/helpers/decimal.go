// Package helpers provides common utility functions used across the ledger engine.
package helpers

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDecimal parses a decimal number that may use either a comma or a dot
// as the fractional separator (broker and central-bank feeds mix both).
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal string")
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return v, nil
}

// QuantityEpsilon is the tolerance under which a quantity counts as zero.
const QuantityEpsilon = 1e-10

// NearZero reports whether amount is within the quantity epsilon of zero.
func NearZero(amount float64) bool {
	return amount > -QuantityEpsilon && amount < QuantityEpsilon
}

// FormatCZK formats an amount in the reporting currency to two decimal places.
func FormatCZK(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
