package masterdata

import (
	"github.com/shopspring/decimal"
)

// Tank is a fuel reservoir. Version is bumped on every level change so that
// concurrent writers (shift close, deliveries) can detect each other.
type Tank struct {
	ID           string
	StationID    string
	FuelType     string
	Capacity     decimal.Decimal
	CurrentLevel decimal.Decimal
	Version      int64
	Active       bool
}

// Ullage is the remaining empty capacity.
func (t Tank) Ullage() decimal.Decimal {
	return t.Capacity.Sub(t.CurrentLevel)
}

// Holds reports whether level fits in the tank: 0 <= level <= capacity.
func (t Tank) Holds(level decimal.Decimal) bool {
	if level.IsNegative() {
		return false
	}
	return level.LessThanOrEqual(t.Capacity)
}

// Pump groups nozzles drawing from a single tank.
type Pump struct {
	ID        string
	StationID string
	TankID    string
	Label     string
	Active    bool
}

// Nozzle is a dispensing point. MeterIndex is the cumulative counter as of the
// last shift close; TankID and FuelType are resolved through the pump.
type Nozzle struct {
	ID         string
	PumpID     string
	StationID  string
	TankID     string
	FuelType   string
	MeterIndex decimal.Decimal
	Active     bool
}
