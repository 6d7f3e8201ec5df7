package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CostPolicy derives the unit cost the engine records for an item. Cost is
// never sourced directly; it is a margin applied to the reference price,
// and the margin is business policy supplied by configuration rather than
// logic baked into an adapter.
type CostPolicy interface {
	Cost(msrp decimal.Decimal, vendor, origin string) decimal.Decimal
}

// MarginTable is a CostPolicy driven by per-vendor and per-origin
// multipliers. Vendor match wins over origin match; both are
// case-insensitive. A zero multiplier falls through to the default.
type MarginTable struct {
	ByVendor map[string]float64 `yaml:"by_vendor"`
	ByOrigin map[string]float64 `yaml:"by_origin"`
	Default  float64            `yaml:"default"`
}

// Cost implements CostPolicy.
func (m *MarginTable) Cost(msrp decimal.Decimal, vendor, origin string) decimal.Decimal {
	mult := m.Default
	if v, ok := lookupFold(m.ByOrigin, origin); ok {
		mult = v
	}
	if v, ok := lookupFold(m.ByVendor, vendor); ok {
		mult = v
	}
	if mult <= 0 {
		return decimal.Zero
	}
	return msrp.Mul(decimal.NewFromFloat(mult)).Round(2)
}

func lookupFold(table map[string]float64, key string) (float64, bool) {
	if len(table) == 0 || key == "" {
		return 0, false
	}
	for k, v := range table {
		if strings.EqualFold(k, key) && v > 0 {
			return v, true
		}
	}
	return 0, false
}
