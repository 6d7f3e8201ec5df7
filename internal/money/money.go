// Package money provides fixed-point price handling for the sync engine.
//
// Vendor feeds supply prices and weights as loosely formatted strings
// ("$19.99", "1,234.00 NZD", "0.5 kg"). Parsing is defensive: the first
// numeric token wins and unparsable values become zero rather than failing
// the item. All comparisons happen at two decimal places, never on raw
// floats.
package money

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericToken = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Parse extracts the first numeric token from a vendor-supplied price
// string. Currency symbols, thousands separators, and trailing noise are
// ignored. Unparsable input yields zero.
func Parse(s string) decimal.Decimal {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	token := numericToken.FindString(cleaned)
	if token == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Grams per weight unit suffix.
var unitGrams = map[string]float64{
	"g":  1,
	"kg": 1000,
	"lb": 453.592,
	"oz": 28.3495,
}

// ParseGrams extracts a weight in grams from a vendor-supplied string,
// honoring g/kg/lb/oz unit suffixes. A bare number is taken as grams.
// Unparsable input yields zero.
func ParseGrams(s string) int {
	cleaned := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	token := numericToken.FindString(cleaned)
	if token == "" {
		return 0
	}
	d, err := decimal.NewFromString(token)
	if err != nil {
		return 0
	}

	factor := 1.0
	rest := strings.TrimSpace(cleaned[strings.Index(cleaned, token)+len(token):])
	for unit, grams := range unitGrams {
		if strings.HasPrefix(rest, unit) {
			// "g" is a prefix of nothing else here, but "kg" must win
			// over a bare "g" match on the same input.
			if unit == "g" && strings.HasPrefix(rest, "kg") {
				continue
			}
			factor = grams
			break
		}
	}
	return int(d.Mul(decimal.NewFromFloat(factor)).Round(0).IntPart())
}

// Equal compares two amounts at two-decimal resolution, so "19.990" and
// 19.99 are the same price.
func Equal(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

// String formats an amount with exactly two decimal places, the form the
// destination API expects.
func String(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
