package pricing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptyFuelType is returned for price rows without a fuel type.
var ErrEmptyFuelType = errors.New("pricing: empty fuel type")

// Snapshot maps a fuel type to its unit price, frozen at shift open.
type Snapshot map[string]decimal.Decimal

// PriceFor returns the price for fuelType and whether it is present.
func (s Snapshot) PriceFor(fuelType string) (decimal.Decimal, bool) {
	price, ok := s[fuelType]
	return price, ok
}

// FuelTypes lists the priced fuel types in lexical order.
func (s Snapshot) FuelTypes() []string {
	types := make([]string, 0, len(s))
	for fuelType := range s {
		types = append(types, fuelType)
	}
	sort.Strings(types)
	return types
}

// Missing returns the fuel types in wanted that have no price, deduplicated and sorted.
func (s Snapshot) Missing(wanted []string) []string {
	seen := make(map[string]struct{}, len(wanted))
	var missing []string
	for _, fuelType := range wanted {
		if _, done := seen[fuelType]; done {
			continue
		}
		seen[fuelType] = struct{}{}
		if _, ok := s[fuelType]; !ok {
			missing = append(missing, fuelType)
		}
	}
	sort.Strings(missing)
	return missing
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Price is one approved price row.
type Price struct {
	ID            string
	StationID     string
	FuelType      string
	UnitPrice     decimal.Decimal
	EffectiveDate time.Time
	Active        bool
}

// SnapshotFromPrices keeps, per fuel type, the newest active price effective at
// or before at. Station-specific rows win over network-wide rows on the same date.
func SnapshotFromPrices(prices []Price, at time.Time) (Snapshot, error) {
	type pick struct {
		price Price
		set   bool
	}
	best := make(map[string]pick)
	for _, p := range prices {
		if p.FuelType == "" {
			return nil, ErrEmptyFuelType
		}
		if !p.Active || p.EffectiveDate.After(at) {
			continue
		}
		current := best[p.FuelType]
		if !current.set || newer(p, current.price) {
			best[p.FuelType] = pick{price: p, set: true}
		}
	}
	snapshot := make(Snapshot, len(best))
	for fuelType, p := range best {
		snapshot[fuelType] = p.price.UnitPrice
	}
	return snapshot, nil
}

func newer(candidate, current Price) bool {
	if !candidate.EffectiveDate.Equal(current.EffectiveDate) {
		return candidate.EffectiveDate.After(current.EffectiveDate)
	}
	return candidate.StationID != "" && current.StationID == ""
}

// Provider resolves the prices in force for a station at an instant.
type Provider interface {
	SnapshotAt(ctx context.Context, stationID string, at time.Time) (Snapshot, error)
}
