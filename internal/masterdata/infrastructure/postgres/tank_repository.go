package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
)

const defaultTanksTable = "tanks"

// TankRepository persists tanks and their optimistic-lock version.
type TankRepository struct {
	db    DBTX
	table string
}

// TankOption configures the repository.
type TankOption func(*TankRepository)

// WithTankTable overrides the default table name.
func WithTankTable(table string) TankOption {
	return func(repo *TankRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewTankRepository constructs a repository.
func NewTankRepository(db DBTX, opts ...TankOption) *TankRepository {
	repo := &TankRepository{db: db, table: defaultTanksTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a tank by id. A missing tank yields nil, nil.
func (r *TankRepository) Get(ctx context.Context, id string) (*masterdata.Tank, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tank repo: nil db")
	}
	if id == "" {
		return nil, errors.New("tank repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, station_id, fuel_type, capacity, current_level, version, is_active
FROM %s
WHERE id = $1`, r.table)
	tank, err := scanTank(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tank, err
}

// ListActiveByStation returns active tanks of a station ordered by id.
func (r *TankRepository) ListActiveByStation(ctx context.Context, stationID string) ([]masterdata.Tank, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tank repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, station_id, fuel_type, capacity, current_level, version, is_active
FROM %s
WHERE station_id = $1 AND is_active
ORDER BY id`, r.table)
	rows, err := r.db.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tanks []masterdata.Tank
	for rows.Next() {
		tank, err := scanTank(rows)
		if err != nil {
			return nil, err
		}
		tanks = append(tanks, *tank)
	}
	return tanks, rows.Err()
}

// SwapLevel sets current_level only if the stored version still matches
// expectedVersion. It reports false when another writer got there first.
func (r *TankRepository) SwapLevel(ctx context.Context, id string, expectedVersion int64, level decimal.Decimal) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("tank repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET current_level = $1, version = version + 1, updated_at = NOW()
WHERE id = $2 AND version = $3`, r.table)
	res, err := r.db.ExecContext(ctx, query, level.Round(4), id, expectedVersion)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func scanTank(row rowScanner) (*masterdata.Tank, error) {
	var tank masterdata.Tank
	if err := row.Scan(
		&tank.ID,
		&tank.StationID,
		&tank.FuelType,
		&tank.Capacity,
		&tank.CurrentLevel,
		&tank.Version,
		&tank.Active,
	); err != nil {
		return nil, err
	}
	return &tank, nil
}
