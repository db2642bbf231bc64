package postgres_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
	mdpg "fuelstation-cloud/internal/masterdata/infrastructure/postgres"
	pricingpg "fuelstation-cloud/internal/pricing/infrastructure/postgres"
	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
	shiftpg "fuelstation-cloud/internal/shift/infrastructure/postgres"
)

type fixture struct {
	stationID string
	tankID    string
	nozzleID  string
}

func TestStoreOpenCloseRoundTrip(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	require.NoError(t, applyMigrations(db))

	ctx := context.Background()
	fx := seedStation(t, db)

	service := newService(t, db)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	opened, err := service.OpenShift(ctx, application.OpenShiftCommand{
		StationID: fx.stationID,
		ShiftDate: date,
		ShiftType: "MORNING",
		UserID:    "u-1",
	})
	require.NoError(t, err)
	require.Len(t, opened.Sales, 1)
	require.Len(t, opened.TankDips, 1)
	assert.True(t, decimal.RequireFromString("1000").Equal(opened.Sales[0].OpeningIndex))
	assert.True(t, decimal.RequireFromString("750").Equal(opened.AppliedPriceSnapshot["SUPER"]))

	_, err = service.OpenShift(ctx, application.OpenShiftCommand{
		StationID: fx.stationID,
		ShiftDate: date,
		ShiftType: "MORNING",
		UserID:    "u-1",
	})
	assert.True(t, shift.IsCode(err, shift.CodeShiftDuplicate))

	closed, err := service.CloseShift(ctx, application.CloseShiftCommand{
		ShiftID:        opened.ID,
		Sales:          []application.SaleReading{{NozzleID: fx.nozzleID, ClosingIndex: decimal.RequireFromString("1100")}},
		TankDips:       []application.DipReading{{TankID: fx.tankID, PhysicalLevel: decimal.RequireFromString("4900")}},
		Cash:           shift.CashInput{Counted: decimal.RequireFromString("75000")},
		UserID:         "u-1",
		IdempotencyKey: "idem-" + opened.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, shift.StatusClosed, closed.Status)
	assert.True(t, decimal.RequireFromString("75000").Equal(closed.TotalRevenue))
	assert.True(t, closed.CashVariance.IsZero())
	assert.True(t, closed.StockVariance.IsZero())

	stored, err := service.GetShift(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.StatusClosed, stored.Status)
	require.NotNil(t, stored.ClosedAt)
	assert.True(t, decimal.RequireFromString("100").Equal(stored.Sales[0].VolumeSold.Decimal))

	var level decimal.Decimal
	var version int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT current_level, version FROM tanks WHERE id = $1`, fx.tankID).Scan(&level, &version))
	assert.True(t, decimal.RequireFromString("4900").Equal(level))
	assert.Equal(t, int64(1), version)

	replayed, err := service.CloseShift(ctx, application.CloseShiftCommand{
		ShiftID:        opened.ID,
		Cash:           shift.CashInput{Counted: decimal.RequireFromString("1")},
		IdempotencyKey: "idem-" + opened.ID,
	})
	require.NoError(t, err)
	assert.True(t, closed.TotalRevenue.Equal(replayed.TotalRevenue))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT version FROM tanks WHERE id = $1`, fx.tankID).Scan(&version))
	assert.Equal(t, int64(1), version)

	next, err := service.OpenShift(ctx, application.OpenShiftCommand{
		StationID: fx.stationID,
		ShiftDate: date,
		ShiftType: "EVENING",
		UserID:    "u-2",
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1100").Equal(next.Sales[0].OpeningIndex))
	assert.True(t, decimal.RequireFromString("4900").Equal(next.TankDips[0].OpeningLevel))
}

func TestStoreConcurrentCloseSingleWinner(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	require.NoError(t, applyMigrations(db))

	ctx := context.Background()
	fx := seedStation(t, db)
	service := newService(t, db)

	opened, err := service.OpenShift(ctx, application.OpenShiftCommand{
		StationID: fx.stationID,
		ShiftDate: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		ShiftType: "NIGHT",
		UserID:    "u-1",
	})
	require.NoError(t, err)

	const workers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.CloseShift(ctx, application.CloseShiftCommand{
				ShiftID:  opened.ID,
				Sales:    []application.SaleReading{{NozzleID: fx.nozzleID, ClosingIndex: decimal.RequireFromString("1010")}},
				TankDips: []application.DipReading{{TankID: fx.tankID, PhysicalLevel: decimal.RequireFromString("4990")}},
				Cash:     shift.CashInput{Counted: decimal.RequireFromString("7500")},
				UserID:   "u-1",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		be, ok := shift.AsBusinessError(err)
		require.True(t, ok, "unexpected error %v", err)
		assert.Contains(t, []shift.Code{shift.CodeShiftNotOpen, shift.CodeConcurrencyFail, shift.CodeTimeout}, be.Code)
	}

	var version int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT version FROM tanks WHERE id = $1`, fx.tankID).Scan(&version))
	assert.Equal(t, int64(1), version)
}

func TestStoreCloseConflictsWithConcurrentTankWriter(t *testing.T) {
	db := openDB(t)
	defer db.Close()
	require.NoError(t, applyMigrations(db))

	ctx := context.Background()
	fx := seedStation(t, db)
	service := newService(t, db)

	opened, err := service.OpenShift(ctx, application.OpenShiftCommand{
		StationID: fx.stationID,
		ShiftDate: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		ShiftType: "MORNING",
		UserID:    "u-1",
	})
	require.NoError(t, err)

	cmd := application.CloseShiftCommand{
		ShiftID:        opened.ID,
		Sales:          []application.SaleReading{{NozzleID: fx.nozzleID, ClosingIndex: decimal.RequireFromString("1010")}},
		TankDips:       []application.DipReading{{TankID: fx.tankID, PhysicalLevel: decimal.RequireFromString("4990")}},
		Cash:           shift.CashInput{Counted: decimal.RequireFromString("7500")},
		UserID:         "u-1",
		IdempotencyKey: "idem-" + opened.ID,
	}

	// A delivery on another connection holds the tank row until the close
	// has read the old version and queued behind it.
	writer, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = writer.Rollback() }()
	_, err = writer.ExecContext(ctx, `UPDATE tanks SET current_level = current_level + 100, version = version + 1 WHERE id = $1`, fx.tankID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := service.CloseShift(ctx, cmd)
		done <- err
	}()
	require.Eventually(t, func() bool {
		var waiting int
		err := db.QueryRowContext(ctx, `
SELECT count(*) FROM pg_stat_activity
WHERE datname = current_database() AND wait_event_type = 'Lock' AND query ILIKE '%UPDATE%tanks%'`).Scan(&waiting)
		return err == nil && waiting > 0
	}, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, writer.Commit())

	closeErr := <-done
	be, ok := shift.AsBusinessError(closeErr)
	require.True(t, ok, "unexpected error %v", closeErr)
	assert.Equal(t, shift.CodeConcurrencyFail, be.Code)
	assert.True(t, be.Retryable)

	stored, err := service.GetShift(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.StatusOpen, stored.Status)
	assert.False(t, stored.Sales[0].ClosingIndex.Valid)

	var level decimal.Decimal
	var version int64
	require.NoError(t, db.QueryRowContext(ctx, `SELECT current_level, version FROM tanks WHERE id = $1`, fx.tankID).Scan(&level, &version))
	assert.True(t, decimal.RequireFromString("5100").Equal(level))
	assert.Equal(t, int64(1), version)

	// The same key retried after the conflict performs the close once.
	closed, err := service.CloseShift(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, shift.StatusClosed, closed.Status)
	replayed, err := service.CloseShift(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, closed.ID, replayed.ID)
	assert.True(t, closed.CashVariance.Equal(replayed.CashVariance))

	require.NoError(t, db.QueryRowContext(ctx, `SELECT current_level, version FROM tanks WHERE id = $1`, fx.tankID).Scan(&level, &version))
	assert.True(t, decimal.RequireFromString("4990").Equal(level))
	assert.Equal(t, int64(2), version)
}

func newService(t *testing.T, db *sql.DB) *application.Service {
	t.Helper()
	store, err := shiftpg.NewStore(db, shiftpg.WithLockTimeout(2*time.Second))
	require.NoError(t, err)
	service, err := application.NewService(store, pricingpg.NewPriceProvider(db))
	require.NoError(t, err)
	return service
}

func seedStation(t *testing.T, db *sql.DB) fixture {
	t.Helper()
	suffix := uuid.NewString()[:8]
	fx := fixture{
		stationID: "st-" + suffix,
		tankID:    "tk-" + suffix,
		nozzleID:  "nz-" + suffix,
	}
	pumpID := "pm-" + suffix
	ctx := context.Background()

	stations := mdpg.NewStationRepository(db)
	require.NoError(t, stations.Save(ctx, &masterdata.Station{
		ID:        fx.stationID,
		Name:      "Station " + suffix,
		Active:    true,
		ManagerID: "mgr-" + suffix,
		Tolerance: masterdata.ToleranceOverride{
			CashVariance:  decimal.NewNullDecimal(decimal.NewFromInt(2000)),
			StockVariance: decimal.NewNullDecimal(decimal.Zero),
		},
	}))
	saved, err := stations.Get(ctx, fx.stationID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.True(t, saved.Tolerance.CashVariance.Valid)
	require.True(t, decimal.NewFromInt(2000).Equal(saved.Tolerance.CashVariance.Decimal))
	require.True(t, saved.Tolerance.StockVariance.Valid, "a zero threshold must survive the round trip")
	require.True(t, saved.Tolerance.StockVariance.Decimal.IsZero())

	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO tanks (id, station_id, fuel_type, capacity, current_level) VALUES ($1, $2, 'SUPER', 20000, 5000)`, []any{fx.tankID, fx.stationID}},
		{`INSERT INTO pumps (id, station_id, tank_id, label) VALUES ($1, $2, $3, 'P1')`, []any{pumpID, fx.stationID, fx.tankID}},
		{`INSERT INTO nozzles (id, pump_id, meter_index) VALUES ($1, $2, 1000)`, []any{fx.nozzleID, pumpID}},
		{`INSERT INTO fuel_prices (id, station_id, fuel_type, unit_price, effective_date) VALUES ($1, $2, 'SUPER', 750, NOW() - INTERVAL '1 day')`, []any{"fp-" + suffix, fx.stationID}},
	}
	for _, stmt := range statements {
		_, err := db.ExecContext(ctx, stmt.query, stmt.args...)
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, `DELETE FROM shift_reports WHERE station_id = $1`, fx.stationID)
		_, _ = db.ExecContext(ctx, `DELETE FROM fuel_prices WHERE station_id = $1`, fx.stationID)
		_, _ = db.ExecContext(ctx, `DELETE FROM nozzles WHERE pump_id = $1`, pumpID)
		_, _ = db.ExecContext(ctx, `DELETE FROM pumps WHERE id = $1`, pumpID)
		_, _ = db.ExecContext(ctx, `DELETE FROM tanks WHERE id = $1`, fx.tankID)
		_, _ = db.ExecContext(ctx, `DELETE FROM stations WHERE id = $1`, fx.stationID)
	})
	return fx
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	return db
}

func applyMigrations(db *sql.DB) error {
	content, err := os.ReadFile(filepath.Join(projectRoot(), "migrations", "001_shift_reconciliation.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", "..", ".."))
}
