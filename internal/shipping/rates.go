// Package shipping looks up delivery costs by zone. The rate table is
// read-only from this service's point of view.
package shipping

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

type Rates interface {
	// Cost returns the shipping cost for a zone. The second return value is
	// false when the zone is outside the coverage area; that is a lookup
	// miss, not an error.
	Cost(ctx context.Context, zone string) (decimal.Decimal, bool, error)
}

// StaticRates serves a fixed in-memory table, used in development and
// tests. Matching is case-insensitive on the trimmed zone name.
type StaticRates struct {
	rates map[string]decimal.Decimal
}

func NewStaticRates(rates map[string]decimal.Decimal) *StaticRates {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for zone, cost := range rates {
		normalized[normalize(zone)] = cost
	}
	return &StaticRates{rates: normalized}
}

func (s *StaticRates) Cost(ctx context.Context, zone string) (decimal.Decimal, bool, error) {
	cost, ok := s.rates[normalize(zone)]
	if !ok {
		return decimal.Zero, false, nil
	}
	return cost, true, nil
}

func normalize(zone string) string {
	return strings.ToLower(strings.TrimSpace(zone))
}
