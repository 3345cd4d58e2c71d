// Package currency formats amounts with the number of minor-unit digits each
// ISO 4217 currency uses on the wire.
package currency

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultPlaces int32 = 2

var zeroDecimal = []string{
	"BIF", "CLP", "DJF", "GNF", "ISK", "JPY", "KMF", "KRW", "PYG",
	"RWF", "UGX", "UYI", "VND", "VUV", "XAF", "XOF", "XPF",
}

var threeDecimal = []string{
	"BHD", "IQD", "JOD", "KWD", "LYD", "OMR", "TND",
}

// Table maps currency codes to decimal places. Codes not in the table use two.
// A Table is immutable once built; With returns an extended copy.
type Table struct {
	places map[string]int32
}

var defaultTable = buildDefault()

func buildDefault() Table {
	t := Table{places: make(map[string]int32, len(zeroDecimal)+len(threeDecimal))}
	for _, c := range zeroDecimal {
		t.places[c] = 0
	}
	for _, c := range threeDecimal {
		t.places[c] = 3
	}
	return t
}

// Default returns the built-in table.
func Default() Table { return defaultTable }

// With returns a copy of t with code mapped to places.
func (t Table) With(code string, places int32) Table {
	out := Table{places: make(map[string]int32, len(t.places)+1)}
	for k, v := range t.places {
		out.places[k] = v
	}
	out.places[normalize(code)] = places
	return out
}

// Places returns the decimal places for code.
func (t Table) Places(code string) int32 {
	if p, ok := t.places[normalize(code)]; ok {
		return p
	}
	return defaultPlaces
}

// Format renders amount with the currency's decimal places, rounding half away from zero.
func (t Table) Format(amount float64, code string) string {
	return decimal.NewFromFloat(amount).StringFixed(t.Places(code))
}

// FormatDecimal is Format for callers already holding a decimal.
func (t Table) FormatDecimal(amount decimal.Decimal, code string) string {
	return amount.StringFixed(t.Places(code))
}

// FormatAmount formats with the default table.
func FormatAmount(amount float64, code string) string {
	return defaultTable.Format(amount, code)
}

// ParseAmount parses a gateway amount string such as "10.50".
func ParseAmount(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// Valid reports whether code looks like an ISO 4217 alphabetic code.
func Valid(code string) bool {
	code = normalize(code)
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
