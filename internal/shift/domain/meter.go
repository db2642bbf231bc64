package shift

import (
	"github.com/shopspring/decimal"
)

// DefaultMeterMax is the largest value a dispenser counter displays before it
// wraps to zero. Confirm against the installed hardware.
var DefaultMeterMax = decimal.RequireFromString("999999.9999")

// MeterCalculator turns index pairs into dispensed volume.
type MeterCalculator struct {
	max decimal.Decimal
}

// NewMeterCalculator builds a calculator for counters wrapping at max.
func NewMeterCalculator(max decimal.Decimal) (MeterCalculator, error) {
	if !max.IsPositive() {
		return MeterCalculator{}, ErrInvalidMeterMax
	}
	return MeterCalculator{max: max}, nil
}

// DefaultMeterCalculator wraps at DefaultMeterMax.
func DefaultMeterCalculator() MeterCalculator {
	return MeterCalculator{max: DefaultMeterMax}
}

// Max returns the wrap modulus.
func (m MeterCalculator) Max() decimal.Decimal {
	if m.max.IsZero() {
		return DefaultMeterMax
	}
	return m.max
}

// ValidateIndex rejects readings the counter cannot display.
func (m MeterCalculator) ValidateIndex(index decimal.Decimal) error {
	if index.IsNegative() || index.GreaterThan(m.Max()) {
		return ErrInvalidMeterIndex
	}
	return nil
}

// VolumeSold returns the volume dispensed between two readings and whether the
// counter wrapped. A closing index below the opening one means rollover:
// (max - opening) + closing. A negative result is never clamped; it signals
// a modulus smaller than the recorded opening index.
func (m MeterCalculator) VolumeSold(opening, closing decimal.Decimal) (decimal.Decimal, bool, error) {
	if opening.IsNegative() || closing.IsNegative() {
		return decimal.Zero, false, ErrInvalidMeterIndex
	}
	if closing.GreaterThanOrEqual(opening) {
		return closing.Sub(opening), false, nil
	}
	volume := m.Max().Sub(opening).Add(closing)
	if volume.IsNegative() {
		return decimal.Zero, true, ErrNegativeVolume
	}
	return volume, true, nil
}
