package masterdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	defaultCashVarianceTolerance  = decimal.NewFromInt(5000)
	defaultStockVarianceTolerance = decimal.NewFromInt(50)
)

// Tolerance holds the variance thresholds above which a closed shift raises an alert.
type Tolerance struct {
	CashVariance  decimal.Decimal
	StockVariance decimal.Decimal
}

// DefaultTolerance returns the network-wide thresholds.
func DefaultTolerance() Tolerance {
	return Tolerance{
		CashVariance:  defaultCashVarianceTolerance,
		StockVariance: defaultStockVarianceTolerance,
	}
}

// ToleranceOverride carries thresholds that may be unset. A set zero means
// any variance alerts; an unset field inherits.
type ToleranceOverride struct {
	CashVariance  decimal.NullDecimal
	StockVariance decimal.NullDecimal
}

// Merge returns t with every set field of override applied on top.
func (t Tolerance) Merge(override ToleranceOverride) Tolerance {
	if override.CashVariance.Valid {
		t.CashVariance = override.CashVariance.Decimal
	}
	if override.StockVariance.Valid {
		t.StockVariance = override.StockVariance.Decimal
	}
	return t
}

func (o ToleranceOverride) negative() bool {
	return (o.CashVariance.Valid && o.CashVariance.Decimal.IsNegative()) ||
		(o.StockVariance.Valid && o.StockVariance.Decimal.IsNegative())
}

// Station represents a fuel station in masterdata.
type Station struct {
	ID          string
	Name        string
	Active      bool
	ManagerID   string
	Tolerance   ToleranceOverride
	OpeningTime string
	ClosingTime string
	Timezone    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks station invariants.
func (s Station) Validate() error {
	if s.ID == "" {
		return errors.New("station: empty id")
	}
	if s.Name == "" {
		return errors.New("station: empty name")
	}
	if s.Tolerance.negative() {
		return errors.New("station: negative tolerance")
	}
	return nil
}

// DisplayName falls back to the id when the station has no name.
func (s Station) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// StationRepository manages station persistence.
type StationRepository interface {
	Get(ctx context.Context, id string) (*Station, error)
	Save(ctx context.Context, station *Station) error
}
