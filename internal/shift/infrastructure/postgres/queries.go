package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	mdpg "fuelstation-cloud/internal/masterdata/infrastructure/postgres"
	pricing "fuelstation-cloud/internal/pricing/domain"
	shift "fuelstation-cloud/internal/shift/domain"
)

// Tables names the relations the store uses.
type Tables struct {
	Reports string
	Sales   string
	Dips    string
}

// DefaultTables returns the migrated table names.
func DefaultTables() Tables {
	return Tables{Reports: "shift_reports", Sales: "shift_sales", Dips: "shift_tank_dips"}
}

const reportColumns = `id, station_id, shift_date, shift_type, status, applied_price_snapshot,
	total_revenue, cash_counted, card_amount, expenses_amount, theoretical_cash, cash_variance, stock_variance,
	COALESCE(justification, ''), COALESCE(idempotency_key, ''), opened_by, COALESCE(closed_by, ''),
	opened_at, closed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*shift.Report, error) {
	var (
		report   shift.Report
		status   string
		snapshot []byte
		closedAt sql.NullTime
	)
	if err := row.Scan(
		&report.ID,
		&report.StationID,
		&report.ShiftDate,
		&report.ShiftType,
		&status,
		&snapshot,
		&report.TotalRevenue,
		&report.CashCounted,
		&report.CardAmount,
		&report.ExpensesAmount,
		&report.TheoreticalCash,
		&report.CashVariance,
		&report.StockVariance,
		&report.Justification,
		&report.IdempotencyKey,
		&report.OpenedBy,
		&report.ClosedBy,
		&report.OpenedAt,
		&closedAt,
		&report.UpdatedAt,
	); err != nil {
		return nil, err
	}
	report.Status = shift.Status(status)
	report.ShiftDate = shift.NormalizeDate(report.ShiftDate)
	report.OpenedAt = report.OpenedAt.UTC()
	report.UpdatedAt = report.UpdatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		report.ClosedAt = &at
	}
	if len(snapshot) > 0 {
		var prices pricing.Snapshot
		if err := json.Unmarshal(snapshot, &prices); err != nil {
			return nil, fmt.Errorf("shift store: decode price snapshot: %w", err)
		}
		report.AppliedPriceSnapshot = prices
	}
	return &report, nil
}

// loadReport reads one report matching where and attaches its lines. It
// returns nil, nil when nothing matches.
func loadReport(ctx context.Context, db mdpg.DBTX, tables Tables, where string, lock bool, args ...any) (*shift.Report, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIMIT 1`, reportColumns, tables.Reports, where)
	if lock {
		query += " FOR UPDATE"
	}
	report, err := scanReport(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, db, tables, report); err != nil {
		return nil, err
	}
	return report, nil
}

func loadLines(ctx context.Context, db mdpg.DBTX, tables Tables, report *shift.Report) error {
	sales, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, shift_id, nozzle_id, tank_id, fuel_type, opening_index, unit_price, closing_index, volume_sold, revenue
FROM %s
WHERE shift_id = $1
ORDER BY nozzle_id`, tables.Sales), report.ID)
	if err != nil {
		return err
	}
	defer sales.Close()
	report.Sales = nil
	for sales.Next() {
		var sale shift.Sale
		if err := sales.Scan(
			&sale.ID,
			&sale.ShiftID,
			&sale.NozzleID,
			&sale.TankID,
			&sale.FuelType,
			&sale.OpeningIndex,
			&sale.UnitPrice,
			&sale.ClosingIndex,
			&sale.VolumeSold,
			&sale.Revenue,
		); err != nil {
			return err
		}
		report.Sales = append(report.Sales, sale)
	}
	if err := sales.Err(); err != nil {
		return err
	}

	dips, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, shift_id, tank_id, fuel_type, opening_level, deliveries, closing_level, theoretical_stock, stock_variance
FROM %s
WHERE shift_id = $1
ORDER BY tank_id`, tables.Dips), report.ID)
	if err != nil {
		return err
	}
	defer dips.Close()
	report.TankDips = nil
	for dips.Next() {
		var dip shift.TankDip
		if err := dips.Scan(
			&dip.ID,
			&dip.ShiftID,
			&dip.TankID,
			&dip.FuelType,
			&dip.OpeningLevel,
			&dip.Deliveries,
			&dip.ClosingLevel,
			&dip.TheoreticalStock,
			&dip.StockVariance,
		); err != nil {
			return err
		}
		report.TankDips = append(report.TankDips, dip)
	}
	return dips.Err()
}

func listOpenReports(ctx context.Context, db mdpg.DBTX, tables Tables) ([]shift.Report, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s FROM %s
WHERE status = 'OPEN'
ORDER BY opened_at`, reportColumns, tables.Reports))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []shift.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// lastClosingValues maps an item id to its value in the most recent closed
// shift of the station that recorded one.
func lastClosingValues(ctx context.Context, db mdpg.DBTX, tables Tables, lineTable, keyColumn, valueColumn, stationID string) (map[string]decimal.Decimal, error) {
	query := fmt.Sprintf(`
SELECT DISTINCT ON (l.%[3]s) l.%[3]s, l.%[4]s
FROM %[2]s l
JOIN %[1]s r ON r.id = l.shift_id
WHERE r.station_id = $1 AND r.status = 'CLOSED' AND l.%[4]s IS NOT NULL
ORDER BY l.%[3]s, r.closed_at DESC`, tables.Reports, lineTable, keyColumn, valueColumn)
	rows, err := db.QueryContext(ctx, query, stationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			id    string
			value decimal.Decimal
		)
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		values[id] = value
	}
	return values, rows.Err()
}
