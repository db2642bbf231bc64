package shift

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func TestVolumeSoldForward(t *testing.T) {
	calc := DefaultMeterCalculator()
	cases := []struct {
		opening, closing, want string
	}{
		{"0", "0", "0"},
		{"1200.5000", "1350.7500", "150.25"},
		{"999999.9999", "999999.9999", "0"},
		{"10", "999999.9999", "999989.9999"},
	}
	for _, tc := range cases {
		volume, rolled, err := calc.VolumeSold(dec(tc.opening), dec(tc.closing))
		require.NoError(t, err)
		assert.False(t, rolled)
		assert.True(t, volume.Equal(dec(tc.want)), "%s -> %s got %s", tc.opening, tc.closing, volume)
	}
}

func TestVolumeSoldRollover(t *testing.T) {
	calc := DefaultMeterCalculator()
	volume, rolled, err := calc.VolumeSold(dec("999995.0000"), dec("10.0000"))
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.Equal(t, "14.9999", Round4(volume).StringFixed(4))
}

func TestVolumeSoldRolloverAtBoundary(t *testing.T) {
	calc, err := NewMeterCalculator(dec("9999.99"))
	require.NoError(t, err)

	volume, rolled, err := calc.VolumeSold(dec("9999.99"), dec("0"))
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.True(t, volume.IsZero())

	volume, _, err = calc.VolumeSold(dec("9999.98"), dec("0.01"))
	require.NoError(t, err)
	assert.True(t, volume.Equal(dec("0.02")))
}

func TestVolumeSoldFailsLoudlyWhenModulusTooSmall(t *testing.T) {
	calc, err := NewMeterCalculator(dec("1000"))
	require.NoError(t, err)

	_, _, err = calc.VolumeSold(dec("5000"), dec("10"))
	assert.True(t, errors.Is(err, ErrNegativeVolume))
}

func TestValidateIndex(t *testing.T) {
	calc := DefaultMeterCalculator()
	assert.NoError(t, calc.ValidateIndex(dec("0")))
	assert.NoError(t, calc.ValidateIndex(DefaultMeterMax))
	assert.ErrorIs(t, calc.ValidateIndex(dec("-0.0001")), ErrInvalidMeterIndex)
	assert.ErrorIs(t, calc.ValidateIndex(dec("1000000")), ErrInvalidMeterIndex)
}

func TestNewMeterCalculatorRejectsNonPositive(t *testing.T) {
	_, err := NewMeterCalculator(decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidMeterMax)
}
