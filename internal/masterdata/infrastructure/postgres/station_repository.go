package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
)

const defaultStationsTable = "stations"

// StationRepository is a Postgres implementation for stations.
type StationRepository struct {
	db    DBTX
	table string
}

var _ masterdata.StationRepository = (*StationRepository)(nil)

// NewStationRepository constructs a repository.
func NewStationRepository(db DBTX, opts ...StationOption) *StationRepository {
	repo := &StationRepository{db: db, table: defaultStationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StationOption configures the repository.
type StationOption func(*StationRepository)

// WithStationTable overrides the default table name.
func WithStationTable(table string) StationOption {
	return func(repo *StationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a station by id. A missing station yields nil, nil.
func (r *StationRepository) Get(ctx context.Context, id string) (*masterdata.Station, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}
	if id == "" {
		return nil, errors.New("station repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, name, is_active, COALESCE(manager_id, ''),
	cash_variance_tolerance, stock_variance_tolerance,
	COALESCE(opening_time, ''), COALESCE(closing_time, ''), timezone,
	created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var station masterdata.Station
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&station.ID,
		&station.Name,
		&station.Active,
		&station.ManagerID,
		&station.Tolerance.CashVariance,
		&station.Tolerance.StockVariance,
		&station.OpeningTime,
		&station.ClosingTime,
		&station.Timezone,
		&station.CreatedAt,
		&station.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	station.CreatedAt = station.CreatedAt.UTC()
	station.UpdatedAt = station.UpdatedAt.UTC()
	return &station, nil
}

// Save upserts a station.
func (r *StationRepository) Save(ctx context.Context, station *masterdata.Station) error {
	if r == nil || r.db == nil {
		return errors.New("station repo: nil db")
	}
	if station == nil {
		return errors.New("station repo: nil station")
	}
	if err := station.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	is_active,
	manager_id,
	cash_variance_tolerance,
	stock_variance_tolerance,
	opening_time,
	closing_time,
	timezone
) VALUES (
	$1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9
)
ON CONFLICT (id)
DO UPDATE SET
	name = EXCLUDED.name,
	is_active = EXCLUDED.is_active,
	manager_id = EXCLUDED.manager_id,
	cash_variance_tolerance = EXCLUDED.cash_variance_tolerance,
	stock_variance_tolerance = EXCLUDED.stock_variance_tolerance,
	opening_time = EXCLUDED.opening_time,
	closing_time = EXCLUDED.closing_time,
	timezone = EXCLUDED.timezone,
	updated_at = NOW()`, r.table)

	timezone := station.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := r.db.ExecContext(
		ctx,
		query,
		station.ID,
		station.Name,
		station.Active,
		station.ManagerID,
		station.Tolerance.CashVariance,
		station.Tolerance.StockVariance,
		station.OpeningTime,
		station.ClosingTime,
		timezone,
	)
	return err
}
