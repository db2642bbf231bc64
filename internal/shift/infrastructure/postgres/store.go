package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
	mdpg "fuelstation-cloud/internal/masterdata/infrastructure/postgres"
	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

const (
	defaultLockTimeout      = 5 * time.Second
	defaultStatementTimeout = 10 * time.Second

	constraintStationDateType = "shift_reports_station_date_type_key"
	constraintOneOpen         = "shift_reports_one_open_per_station"
	constraintIdempotencyKey  = "shift_reports_idempotency_key_key"
)

// Store runs shift operations against PostgreSQL.
type Store struct {
	db               *sql.DB
	tables           Tables
	lockTimeout      time.Duration
	statementTimeout time.Duration
}

var _ application.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithTables overrides the shift table names.
func WithTables(tables Tables) Option {
	return func(s *Store) {
		if tables.Reports != "" {
			s.tables.Reports = tables.Reports
		}
		if tables.Sales != "" {
			s.tables.Sales = tables.Sales
		}
		if tables.Dips != "" {
			s.tables.Dips = tables.Dips
		}
	}
}

// WithLockTimeout bounds how long a transaction waits for a row lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithStatementTimeout bounds each statement inside a transaction.
func WithStatementTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.statementTimeout = timeout
		}
	}
}

// NewStore constructs a store.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("shift store: nil db")
	}
	s := &Store{
		db:               db,
		tables:           DefaultTables(),
		lockTimeout:      defaultLockTimeout,
		statementTimeout: defaultStatementTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunInTx runs fn in a serializable transaction. Database failures are
// mapped to business errors so callers can tell retryable conflicts apart.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) (err error) {
	if fn == nil {
		return errors.New("shift store: nil tx func")
	}
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = s.applyTimeouts(ctx, sqlTx); err != nil {
		return classify(err)
	}
	if err = fn(ctx, newPgTx(sqlTx, s.tables)); err != nil {
		return classify(err)
	}
	if err = sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) applyTimeouts(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.statementTimeout.Milliseconds()))
	return err
}

// GetShift implements application.Reader.
func (s *Store) GetShift(ctx context.Context, shiftID string) (*shift.Report, error) {
	return loadReport(ctx, s.db, s.tables, "id = $1", false, shiftID)
}

// FindByIdempotencyKey implements application.Reader.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*shift.Report, error) {
	if key == "" {
		return nil, nil
	}
	return loadReport(ctx, s.db, s.tables, "idempotency_key = $1", false, key)
}

// FindOpenShift implements application.Reader.
func (s *Store) FindOpenShift(ctx context.Context, stationID string) (*shift.Report, error) {
	return loadReport(ctx, s.db, s.tables, "station_id = $1 AND status = 'OPEN'", false, stationID)
}

// ListOpenShifts returns open shift headers without their lines.
func (s *Store) ListOpenShifts(ctx context.Context) ([]shift.Report, error) {
	return listOpenReports(ctx, s.db, s.tables)
}

// classify maps SQLSTATE codes to business errors. Business errors and
// errors without a SQLSTATE pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := shift.AsBusinessError(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return shift.ConcurrencyFail("concurrent update detected, retry the operation", err)
	case "55P03", "57014":
		return shift.Timeout(err)
	case "23505":
		if pgErr.ConstraintName == constraintIdempotencyKey {
			return shift.ConcurrencyFail("idempotency key is being used by a concurrent close", err)
		}
		return shift.ConcurrencyFail("conflicting shift write", err)
	}
	return err
}

type pgTx struct {
	tx       *sql.Tx
	tables   Tables
	stations *mdpg.StationRepository
	tanks    *mdpg.TankRepository
	nozzles  *mdpg.NozzleRepository
}

var _ application.Tx = (*pgTx)(nil)

func newPgTx(tx *sql.Tx, tables Tables) *pgTx {
	return &pgTx{
		tx:       tx,
		tables:   tables,
		stations: mdpg.NewStationRepository(tx),
		tanks:    mdpg.NewTankRepository(tx),
		nozzles:  mdpg.NewNozzleRepository(tx),
	}
}

func (t *pgTx) GetStation(ctx context.Context, stationID string) (*masterdata.Station, error) {
	return t.stations.Get(ctx, stationID)
}

func (t *pgTx) ListActiveNozzles(ctx context.Context, stationID string) ([]masterdata.Nozzle, error) {
	return t.nozzles.ListActiveByStation(ctx, stationID)
}

func (t *pgTx) ListActiveTanks(ctx context.Context, stationID string) ([]masterdata.Tank, error) {
	return t.tanks.ListActiveByStation(ctx, stationID)
}

func (t *pgTx) GetTank(ctx context.Context, tankID string) (*masterdata.Tank, error) {
	return t.tanks.Get(ctx, tankID)
}

func (t *pgTx) ShiftExists(ctx context.Context, stationID string, shiftDate time.Time, shiftType string) (bool, error) {
	query := fmt.Sprintf(`
SELECT EXISTS (
	SELECT 1 FROM %s WHERE station_id = $1 AND shift_date = $2 AND shift_type = $3
)`, t.tables.Reports)
	var exists bool
	err := t.tx.QueryRowContext(ctx, query, stationID, shift.NormalizeDate(shiftDate), shiftType).Scan(&exists)
	return exists, err
}

func (t *pgTx) FindOpenShift(ctx context.Context, stationID string) (*shift.Report, error) {
	return loadReport(ctx, t.tx, t.tables, "station_id = $1 AND status = 'OPEN'", false, stationID)
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, key string) (*shift.Report, error) {
	if key == "" {
		return nil, nil
	}
	return loadReport(ctx, t.tx, t.tables, "idempotency_key = $1", false, key)
}

func (t *pgTx) LastClosingIndexes(ctx context.Context, stationID string) (map[string]decimal.Decimal, error) {
	return lastClosingValues(ctx, t.tx, t.tables, t.tables.Sales, "nozzle_id", "closing_index", stationID)
}

func (t *pgTx) LastClosingLevels(ctx context.Context, stationID string) (map[string]decimal.Decimal, error) {
	return lastClosingValues(ctx, t.tx, t.tables, t.tables.Dips, "tank_id", "closing_level", stationID)
}

func (t *pgTx) InsertShift(ctx context.Context, report *shift.Report) error {
	if report == nil {
		return errors.New("shift store: nil report")
	}
	snapshot, err := json.Marshal(report.AppliedPriceSnapshot)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, station_id, shift_date, shift_type, status, applied_price_snapshot,
	total_revenue, cash_counted, card_amount, expenses_amount, theoretical_cash, cash_variance, stock_variance,
	opened_by, opened_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, t.tables.Reports),
		report.ID,
		report.StationID,
		shift.NormalizeDate(report.ShiftDate),
		report.ShiftType,
		string(report.Status),
		snapshot,
		shift.Round4(report.TotalRevenue),
		shift.Round4(report.CashCounted),
		shift.Round4(report.CardAmount),
		shift.Round4(report.ExpensesAmount),
		shift.Round4(report.TheoreticalCash),
		shift.Round4(report.CashVariance),
		shift.Round4(report.StockVariance),
		report.OpenedBy,
		report.OpenedAt.UTC(),
		report.UpdatedAt.UTC(),
	)
	if err != nil {
		return insertConflict(report, err)
	}

	saleQuery := fmt.Sprintf(`
INSERT INTO %s (id, shift_id, nozzle_id, tank_id, fuel_type, opening_index, unit_price)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, t.tables.Sales)
	for _, sale := range report.Sales {
		if _, err := t.tx.ExecContext(ctx, saleQuery,
			sale.ID, report.ID, sale.NozzleID, sale.TankID, sale.FuelType,
			shift.Round4(sale.OpeningIndex), shift.Round4(sale.UnitPrice),
		); err != nil {
			return err
		}
	}

	dipQuery := fmt.Sprintf(`
INSERT INTO %s (id, shift_id, tank_id, fuel_type, opening_level, deliveries)
VALUES ($1, $2, $3, $4, $5, $6)`, t.tables.Dips)
	for _, dip := range report.TankDips {
		if _, err := t.tx.ExecContext(ctx, dipQuery,
			dip.ID, report.ID, dip.TankID, dip.FuelType,
			shift.Round4(dip.OpeningLevel), shift.Round4(dip.Deliveries),
		); err != nil {
			return err
		}
	}
	return nil
}

// insertConflict turns a unique violation on the report row into the
// business error the caller would have seen had it won the race.
func insertConflict(report *shift.Report, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintStationDateType:
		return shift.ShiftDuplicate(report.StationID, report.ShiftDate.Format(shift.DateLayout), report.ShiftType)
	case constraintOneOpen:
		return shift.PreviousShiftOpen("")
	}
	return err
}

func (t *pgTx) LockShift(ctx context.Context, shiftID string) (*shift.Report, error) {
	return loadReport(ctx, t.tx, t.tables, "id = $1", true, shiftID)
}

func (t *pgTx) UpdateSale(ctx context.Context, sale shift.Sale) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET closing_index = $1, volume_sold = $2, revenue = $3
WHERE id = $4 AND shift_id = $5`, t.tables.Sales),
		sale.ClosingIndex, sale.VolumeSold, sale.Revenue, sale.ID, sale.ShiftID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, "sale "+sale.ID)
}

func (t *pgTx) UpdateTankDip(ctx context.Context, dip shift.TankDip) error {
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET closing_level = $1, theoretical_stock = $2, stock_variance = $3
WHERE id = $4 AND shift_id = $5`, t.tables.Dips),
		dip.ClosingLevel, dip.TheoreticalStock, dip.StockVariance, dip.ID, dip.ShiftID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, "tank dip "+dip.ID)
}

func (t *pgTx) AddDipDeliveries(ctx context.Context, shiftID, tankID string, volume decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET deliveries = deliveries + $1
WHERE shift_id = $2 AND tank_id = $3`, t.tables.Dips),
		shift.Round4(volume), shiftID, tankID,
	)
	return err
}

func (t *pgTx) SwapTankLevel(ctx context.Context, tankID string, expectedVersion int64, level decimal.Decimal) (bool, error) {
	return t.tanks.SwapLevel(ctx, tankID, expectedVersion, level)
}

func (t *pgTx) MarkClosed(ctx context.Context, report *shift.Report) error {
	if report == nil {
		return errors.New("shift store: nil report")
	}
	var closedAt any
	if report.ClosedAt != nil {
		closedAt = report.ClosedAt.UTC()
	}
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = $1,
	total_revenue = $2,
	cash_counted = $3,
	card_amount = $4,
	expenses_amount = $5,
	theoretical_cash = $6,
	cash_variance = $7,
	stock_variance = $8,
	justification = NULLIF($9, ''),
	idempotency_key = NULLIF($10, ''),
	closed_by = NULLIF($11, ''),
	closed_at = $12,
	updated_at = $13
WHERE id = $14 AND status = 'OPEN'`, t.tables.Reports),
		string(report.Status),
		shift.Round4(report.TotalRevenue),
		shift.Round4(report.CashCounted),
		shift.Round4(report.CardAmount),
		shift.Round4(report.ExpensesAmount),
		shift.Round4(report.TheoreticalCash),
		shift.Round4(report.CashVariance),
		shift.Round4(report.StockVariance),
		report.Justification,
		report.IdempotencyKey,
		report.ClosedBy,
		closedAt,
		report.UpdatedAt.UTC(),
		report.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return shift.ShiftNotOpen(report.ID)
	}
	return nil
}

func (t *pgTx) UpdateNozzleMeterIndex(ctx context.Context, nozzleID string, index decimal.Decimal) error {
	return t.nozzles.UpdateMeterIndex(ctx, nozzleID, index)
}

func expectOneRow(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("shift store: %s: expected 1 row, got %d", what, affected)
	}
	return nil
}
