package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
)

const (
	defaultNozzlesTable = "nozzles"
	defaultPumpsTable   = "pumps"
)

// NozzleRepository reads nozzles through their pump to resolve station and tank.
type NozzleRepository struct {
	db         DBTX
	table      string
	pumpsTable string
	tanksTable string
}

// NozzleOption configures the repository.
type NozzleOption func(*NozzleRepository)

// WithNozzleTables overrides the default table names.
func WithNozzleTables(nozzles, pumps, tanks string) NozzleOption {
	return func(repo *NozzleRepository) {
		if nozzles != "" {
			repo.table = nozzles
		}
		if pumps != "" {
			repo.pumpsTable = pumps
		}
		if tanks != "" {
			repo.tanksTable = tanks
		}
	}
}

// NewNozzleRepository constructs a repository.
func NewNozzleRepository(db DBTX, opts ...NozzleOption) *NozzleRepository {
	repo := &NozzleRepository{
		db:         db,
		table:      defaultNozzlesTable,
		pumpsTable: defaultPumpsTable,
		tanksTable: defaultTanksTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListActiveByStation returns active nozzles on active pumps of the station.
func (r *NozzleRepository) ListActiveByStation(ctx context.Context, stationID string) ([]masterdata.Nozzle, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("nozzle repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT n.id, n.pump_id, p.station_id, p.tank_id, t.fuel_type, n.meter_index, n.is_active
FROM %s n
JOIN %s p ON p.id = n.pump_id
JOIN %s t ON t.id = p.tank_id
WHERE p.station_id = $1 AND n.is_active AND p.is_active
ORDER BY n.id`, r.table, r.pumpsTable, r.tanksTable)
	rows, err := r.db.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nozzles []masterdata.Nozzle
	for rows.Next() {
		var nozzle masterdata.Nozzle
		if err := rows.Scan(
			&nozzle.ID,
			&nozzle.PumpID,
			&nozzle.StationID,
			&nozzle.TankID,
			&nozzle.FuelType,
			&nozzle.MeterIndex,
			&nozzle.Active,
		); err != nil {
			return nil, err
		}
		nozzles = append(nozzles, nozzle)
	}
	return nozzles, rows.Err()
}

// UpdateMeterIndex stores the cumulative counter reached at shift close.
func (r *NozzleRepository) UpdateMeterIndex(ctx context.Context, id string, index decimal.Decimal) error {
	if r == nil || r.db == nil {
		return errors.New("nozzle repo: nil db")
	}
	query := fmt.Sprintf(`UPDATE %s SET meter_index = $1, updated_at = NOW() WHERE id = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, index.Round(4), id)
	return err
}
