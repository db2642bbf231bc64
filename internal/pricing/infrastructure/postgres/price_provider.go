package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pricing "fuelstation-cloud/internal/pricing/domain"
)

const defaultFuelPricesTable = "fuel_prices"

// DBTX is satisfied by *sql.DB and *sql.Tx so the snapshot can be read inside
// the caller's transaction.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PriceProvider resolves fuel prices from approved rows in fuel_prices.
type PriceProvider struct {
	db    DBTX
	table string
}

// PriceOption configures the provider.
type PriceOption func(*PriceProvider)

// WithFuelPricesTable overrides the table name.
func WithFuelPricesTable(table string) PriceOption {
	return func(p *PriceProvider) {
		if table != "" {
			p.table = table
		}
	}
}

// NewPriceProvider constructs a provider.
func NewPriceProvider(db DBTX, opts ...PriceOption) *PriceProvider {
	p := &PriceProvider{db: db, table: defaultFuelPricesTable}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SnapshotAt returns the newest active price per fuel type effective at or
// before at, considering both station-specific and network-wide rows.
func (p *PriceProvider) SnapshotAt(ctx context.Context, stationID string, at time.Time) (pricing.Snapshot, error) {
	if p == nil || p.db == nil {
		return nil, errors.New("price provider: nil db")
	}
	if stationID == "" {
		return nil, errors.New("price provider: empty station id")
	}
	if at.IsZero() {
		return nil, errors.New("price provider: invalid timestamp")
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ON (fuel_type) id, COALESCE(station_id, ''), fuel_type, unit_price, effective_date, is_active
FROM %s
WHERE is_active
  AND effective_date <= $2
  AND (station_id = $1 OR station_id IS NULL)
ORDER BY fuel_type, effective_date DESC, (station_id IS NULL) ASC`, p.table)

	rows, err := p.db.QueryContext(ctx, query, stationID, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []pricing.Price
	for rows.Next() {
		var price pricing.Price
		if err := rows.Scan(
			&price.ID,
			&price.StationID,
			&price.FuelType,
			&price.UnitPrice,
			&price.EffectiveDate,
			&price.Active,
		); err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pricing.SnapshotFromPrices(prices, at.UTC())
}
