package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
	shift "fuelstation-cloud/internal/shift/domain"
)

// Tx is the unit of work a shift operation runs in. Implementations give
// serializable isolation; LockShift holds an exclusive row lock until the
// transaction ends.
type Tx interface {
	GetStation(ctx context.Context, stationID string) (*masterdata.Station, error)
	ListActiveNozzles(ctx context.Context, stationID string) ([]masterdata.Nozzle, error)
	ListActiveTanks(ctx context.Context, stationID string) ([]masterdata.Tank, error)
	GetTank(ctx context.Context, tankID string) (*masterdata.Tank, error)

	ShiftExists(ctx context.Context, stationID string, shiftDate time.Time, shiftType string) (bool, error)
	FindOpenShift(ctx context.Context, stationID string) (*shift.Report, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*shift.Report, error)
	// LastClosingIndexes maps nozzle id to its closing index in the most
	// recent closed shift of the station that read it.
	LastClosingIndexes(ctx context.Context, stationID string) (map[string]decimal.Decimal, error)
	// LastClosingLevels maps tank id to its most recent closing dip.
	LastClosingLevels(ctx context.Context, stationID string) (map[string]decimal.Decimal, error)

	InsertShift(ctx context.Context, report *shift.Report) error
	LockShift(ctx context.Context, shiftID string) (*shift.Report, error)
	UpdateSale(ctx context.Context, sale shift.Sale) error
	UpdateTankDip(ctx context.Context, dip shift.TankDip) error
	AddDipDeliveries(ctx context.Context, shiftID, tankID string, volume decimal.Decimal) error
	// SwapTankLevel writes level only when the tank is still at expectedVersion
	// and reports whether it did.
	SwapTankLevel(ctx context.Context, tankID string, expectedVersion int64, level decimal.Decimal) (bool, error)
	MarkClosed(ctx context.Context, report *shift.Report) error
	UpdateNozzleMeterIndex(ctx context.Context, nozzleID string, index decimal.Decimal) error
}

// Reader serves queries outside a transaction.
type Reader interface {
	GetShift(ctx context.Context, shiftID string) (*shift.Report, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*shift.Report, error)
	FindOpenShift(ctx context.Context, stationID string) (*shift.Report, error)
	ListOpenShifts(ctx context.Context) ([]shift.Report, error)
}

// Store opens transactions. A non-nil error from fn rolls everything back.
type Store interface {
	Reader
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ToleranceSource resolves the thresholds that apply to a station.
type ToleranceSource interface {
	Resolve(station masterdata.Station) masterdata.Tolerance
}

// VarianceAlert is raised after a close whose variances exceed tolerance.
type VarianceAlert struct {
	ShiftID            string
	StationID          string
	StationName        string
	ManagerID          string
	ShiftDate          time.Time
	ShiftType          string
	CashVariance       decimal.Decimal
	TotalStockVariance decimal.Decimal
	Tolerance          masterdata.Tolerance
	CashExceeded       bool
	StockExceeded      bool
	Justification      string
	ClosedBy           string
}

// AlertNotifier enqueues variance notifications.
type AlertNotifier interface {
	NotifyVariance(ctx context.Context, alert VarianceAlert) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
