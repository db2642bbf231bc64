package fixed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pricing "fuelstation-cloud/internal/pricing/domain"
)

// PriceProvider returns the same snapshot for every station and instant.
type PriceProvider struct {
	snapshot pricing.Snapshot
}

// NewPriceProvider constructs the provider.
func NewPriceProvider(snapshot pricing.Snapshot) (*PriceProvider, error) {
	for fuelType, price := range snapshot {
		if fuelType == "" {
			return nil, pricing.ErrEmptyFuelType
		}
		if price.IsNegative() {
			return nil, errors.New("price provider: negative price")
		}
	}
	return &PriceProvider{snapshot: snapshot.Clone()}, nil
}

// ParseSnapshot reads "SUPER=750,GASOIL=690" style lists.
func ParseSnapshot(raw string) (pricing.Snapshot, error) {
	snapshot := pricing.Snapshot{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fuelType, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("fixed prices: malformed entry %q", part)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("fixed prices: %s: %w", fuelType, err)
		}
		snapshot[strings.TrimSpace(fuelType)] = price
	}
	return snapshot, nil
}

// SnapshotAt returns the configured snapshot.
func (p *PriceProvider) SnapshotAt(ctx context.Context, stationID string, at time.Time) (pricing.Snapshot, error) {
	_ = ctx
	_ = stationID
	_ = at
	return p.snapshot.Clone(), nil
}
