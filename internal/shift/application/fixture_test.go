package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fuelstation-cloud/internal/audit"
	masterdata "fuelstation-cloud/internal/masterdata/domain"
	pricing "fuelstation-cloud/internal/pricing/domain"
	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
	"fuelstation-cloud/internal/shift/infrastructure/memory"
)

var openedAt = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return value
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubPrices struct {
	mu     sync.Mutex
	prices pricing.Snapshot
}

func (p *stubPrices) SnapshotAt(ctx context.Context, stationID string, at time.Time) (pricing.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prices.Clone(), nil
}

func (p *stubPrices) Set(fuelType string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[fuelType] = price
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []application.VarianceAlert
}

func (r *recordingAlerts) NotifyVariance(ctx context.Context, alert application.VarianceAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlerts) All() []application.VarianceAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]application.VarianceAlert(nil), r.alerts...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type fixture struct {
	store   *memory.Store
	prices  *stubPrices
	alerts  *recordingAlerts
	audit   *recordingAudit
	clock   *fixedClock
	service *application.Service
}

// newFixture seeds station st-1 with a SUPER tank fed by nz-1 (near the meter
// wrap) and nz-2, and a GASOIL tank fed by nz-3.
func newFixture(t *testing.T, opts ...application.Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.SaveStation(masterdata.Station{ID: "st-1", Name: "Plateau", Active: true, ManagerID: "mgr-1"})
	store.SaveStation(masterdata.Station{ID: "st-off", Name: "Closed", Active: false})
	store.SaveTank(masterdata.Tank{
		ID: "tk-s", StationID: "st-1", FuelType: "SUPER",
		Capacity: decimal.NewFromInt(20000), CurrentLevel: decimal.NewFromInt(10000), Active: true,
	})
	store.SaveTank(masterdata.Tank{
		ID: "tk-g", StationID: "st-1", FuelType: "GASOIL",
		Capacity: decimal.NewFromInt(20000), CurrentLevel: decimal.NewFromInt(8000), Active: true,
	})
	store.SavePump(masterdata.Pump{ID: "pm-1", StationID: "st-1", TankID: "tk-s", Active: true})
	store.SavePump(masterdata.Pump{ID: "pm-2", StationID: "st-1", TankID: "tk-g", Active: true})
	store.SaveNozzle(masterdata.Nozzle{ID: "nz-1", PumpID: "pm-1", MeterIndex: decimal.NewFromInt(999995), Active: true})
	store.SaveNozzle(masterdata.Nozzle{ID: "nz-2", PumpID: "pm-1", MeterIndex: decimal.NewFromInt(2000), Active: true})
	store.SaveNozzle(masterdata.Nozzle{ID: "nz-3", PumpID: "pm-2", MeterIndex: decimal.NewFromInt(5000), Active: true})

	f := &fixture{
		store: store,
		prices: &stubPrices{prices: pricing.Snapshot{
			"SUPER":  decimal.NewFromInt(750),
			"GASOIL": decimal.NewFromInt(690),
		}},
		alerts: &recordingAlerts{},
		audit:  &recordingAudit{},
		clock:  &fixedClock{now: openedAt},
	}
	base := []application.Option{
		application.WithClock(f.clock),
		application.WithAlertNotifier(f.alerts),
		application.WithAuditLogger(f.audit),
	}
	service, err := application.NewService(store, f.prices, append(base, opts...)...)
	require.NoError(t, err)
	f.service = service
	return f
}

func (f *fixture) open(t *testing.T, shiftType string) *shift.Report {
	t.Helper()
	report, err := f.service.OpenShift(context.Background(), application.OpenShiftCommand{
		StationID: "st-1",
		ShiftDate: openedAt,
		ShiftType: shiftType,
		UserID:    "mgr-1",
	})
	require.NoError(t, err)
	return report
}

// balancedClose reads every nozzle and tank so that both variances are zero:
// revenue 75000 SUPER + 138000 GASOIL, card 100000, expenses 20000.
func balancedClose(t *testing.T, shiftID string) application.CloseShiftCommand {
	return application.CloseShiftCommand{
		ShiftID: shiftID,
		Sales: []application.SaleReading{
			{NozzleID: "nz-1", ClosingIndex: dec(t, "10")},
			{NozzleID: "nz-2", ClosingIndex: dec(t, "2085.0001")},
			{NozzleID: "nz-3", ClosingIndex: dec(t, "5200")},
		},
		TankDips: []application.DipReading{
			{TankID: "tk-s", PhysicalLevel: dec(t, "9900")},
			{TankID: "tk-g", PhysicalLevel: dec(t, "7800")},
		},
		Cash: shift.CashInput{
			Counted:  dec(t, "93000"),
			Card:     dec(t, "100000"),
			Expenses: dec(t, "20000"),
		},
		UserID: "mgr-1",
	}
}

func requireCode(t *testing.T, err error, code shift.Code) *shift.BusinessError {
	t.Helper()
	require.Error(t, err)
	be, ok := shift.AsBusinessError(err)
	require.True(t, ok, "not a business error: %v", err)
	require.Equal(t, code, be.Code, be.Error())
	return be
}
