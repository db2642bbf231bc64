package shift

import (
	"time"

	"github.com/shopspring/decimal"

	pricing "fuelstation-cloud/internal/pricing/domain"
)

// Scale is the number of fractional digits persisted for money and volumes.
const Scale int32 = 4

// DateLayout is the wire format of a shift date.
const DateLayout = "2006-01-02"

// Round4 rounds to the persisted scale.
func Round4(value decimal.Decimal) decimal.Decimal {
	return value.Round(Scale)
}

// Status is the lifecycle state of a shift.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// NormalizeDate truncates a calendar date to UTC midnight.
func NormalizeDate(value time.Time) time.Time {
	y, m, d := value.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD shift date.
func ParseDate(raw string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeDate(parsed), nil
}

// Report is one operating shift of a station. It is created OPEN with its
// sale and dip stubs and mutated exactly once, at close.
type Report struct {
	ID                   string
	StationID            string
	ShiftDate            time.Time
	ShiftType            string
	Status               Status
	AppliedPriceSnapshot pricing.Snapshot

	TotalRevenue    decimal.Decimal
	CashCounted     decimal.Decimal
	CardAmount      decimal.Decimal
	ExpensesAmount  decimal.Decimal
	TheoreticalCash decimal.Decimal
	CashVariance    decimal.Decimal
	StockVariance   decimal.Decimal
	Justification   string
	IdempotencyKey  string

	OpenedBy  string
	ClosedBy  string
	OpenedAt  time.Time
	ClosedAt  *time.Time
	UpdatedAt time.Time

	Sales    []Sale
	TankDips []TankDip
}

// NewReport builds an OPEN shift without stubs.
func NewReport(id, stationID string, shiftDate time.Time, shiftType string, snapshot pricing.Snapshot, openedBy string, openedAt time.Time) (*Report, error) {
	if stationID == "" {
		return nil, ErrEmptyStationID
	}
	if shiftType == "" {
		return nil, ErrEmptyShiftType
	}
	if shiftDate.IsZero() {
		return nil, ErrInvalidShiftDate
	}
	return &Report{
		ID:                   id,
		StationID:            stationID,
		ShiftDate:            NormalizeDate(shiftDate),
		ShiftType:            shiftType,
		Status:               StatusOpen,
		AppliedPriceSnapshot: snapshot.Clone(),
		TotalRevenue:         decimal.Zero,
		CashCounted:          decimal.Zero,
		CardAmount:           decimal.Zero,
		ExpensesAmount:       decimal.Zero,
		TheoreticalCash:      decimal.Zero,
		CashVariance:         decimal.Zero,
		StockVariance:        decimal.Zero,
		OpenedBy:             openedBy,
		OpenedAt:             openedAt.UTC(),
		UpdatedAt:            openedAt.UTC(),
	}, nil
}

// IsOpen reports whether the shift still accepts a close.
func (r *Report) IsOpen() bool {
	return r != nil && r.Status == StatusOpen
}

// SaleByNozzle returns the stub for nozzleID.
func (r *Report) SaleByNozzle(nozzleID string) (*Sale, bool) {
	for i := range r.Sales {
		if r.Sales[i].NozzleID == nozzleID {
			return &r.Sales[i], true
		}
	}
	return nil, false
}

// DipByTank returns the stub for tankID.
func (r *Report) DipByTank(tankID string) (*TankDip, bool) {
	for i := range r.TankDips {
		if r.TankDips[i].TankID == tankID {
			return &r.TankDips[i], true
		}
	}
	return nil, false
}

// Closing holds the totals written when a shift closes.
type Closing struct {
	Cash           CashResult
	CashInput      CashInput
	StockVariance  decimal.Decimal
	Justification  string
	IdempotencyKey string
	ClosedBy       string
	ClosedAt       time.Time
}

// Close transitions an OPEN shift to CLOSED. It is the only mutation a shift
// accepts after open.
func (r *Report) Close(c Closing) error {
	if !r.IsOpen() {
		return ErrNotOpen
	}
	closedAt := c.ClosedAt.UTC()
	r.Status = StatusClosed
	r.TotalRevenue = Round4(c.Cash.TotalRevenue)
	r.CashCounted = Round4(c.CashInput.Counted)
	r.CardAmount = Round4(c.CashInput.Card)
	r.ExpensesAmount = Round4(c.CashInput.Expenses)
	r.TheoreticalCash = Round4(c.Cash.TheoreticalCash)
	r.CashVariance = Round4(c.Cash.CashVariance)
	r.StockVariance = Round4(c.StockVariance)
	r.Justification = c.Justification
	r.IdempotencyKey = c.IdempotencyKey
	r.ClosedBy = c.ClosedBy
	r.ClosedAt = &closedAt
	r.UpdatedAt = closedAt
	return nil
}

// Clone returns a deep copy.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	out := *r
	out.AppliedPriceSnapshot = r.AppliedPriceSnapshot.Clone()
	if r.ClosedAt != nil {
		closedAt := *r.ClosedAt
		out.ClosedAt = &closedAt
	}
	out.Sales = append([]Sale(nil), r.Sales...)
	out.TankDips = append([]TankDip(nil), r.TankDips...)
	return &out
}

// Sale is the per-nozzle line of a shift.
type Sale struct {
	ID           string
	ShiftID      string
	NozzleID     string
	TankID       string
	FuelType     string
	OpeningIndex decimal.Decimal
	UnitPrice    decimal.Decimal
	ClosingIndex decimal.NullDecimal
	VolumeSold   decimal.NullDecimal
	Revenue      decimal.NullDecimal
}

// Completed reports whether the sale received a closing reading.
func (s Sale) Completed() bool {
	return s.ClosingIndex.Valid
}

// Complete records the closing reading and its derived values.
func (s *Sale) Complete(closingIndex, volumeSold, revenue decimal.Decimal) {
	s.ClosingIndex = decimal.NewNullDecimal(Round4(closingIndex))
	s.VolumeSold = decimal.NewNullDecimal(Round4(volumeSold))
	s.Revenue = decimal.NewNullDecimal(Round4(revenue))
}

// TankDip is the per-tank line of a shift.
type TankDip struct {
	ID               string
	ShiftID          string
	TankID           string
	FuelType         string
	OpeningLevel     decimal.Decimal
	Deliveries       decimal.Decimal
	ClosingLevel     decimal.NullDecimal
	TheoreticalStock decimal.NullDecimal
	StockVariance    decimal.NullDecimal
}

// Completed reports whether the dip received a physical reading.
func (d TankDip) Completed() bool {
	return d.ClosingLevel.Valid
}

// Complete records the physical level and its derived values.
func (d *TankDip) Complete(closingLevel decimal.Decimal, stock StockResult) {
	d.ClosingLevel = decimal.NewNullDecimal(Round4(closingLevel))
	d.TheoreticalStock = decimal.NewNullDecimal(Round4(stock.TheoreticalStock))
	d.StockVariance = decimal.NewNullDecimal(Round4(stock.StockVariance))
}
