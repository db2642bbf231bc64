package fixed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricing "fuelstation-cloud/internal/pricing/domain"
)

func TestParseSnapshot(t *testing.T) {
	snapshot, err := ParseSnapshot(" SUPER=750, GASOIL = 690.5 ,")
	require.NoError(t, err)
	assert.True(t, snapshot["SUPER"].Equal(decimal.NewFromInt(750)))
	assert.True(t, snapshot["GASOIL"].Equal(decimal.RequireFromString("690.5")))

	_, err = ParseSnapshot("SUPER")
	require.Error(t, err)
}

func TestPriceProviderReturnsCopy(t *testing.T) {
	provider, err := NewPriceProvider(pricing.Snapshot{"SUPER": decimal.NewFromInt(750)})
	require.NoError(t, err)

	first, err := provider.SnapshotAt(context.Background(), "st-1", time.Now())
	require.NoError(t, err)
	first["SUPER"] = decimal.Zero

	second, err := provider.SnapshotAt(context.Background(), "st-1", time.Now())
	require.NoError(t, err)
	assert.True(t, second["SUPER"].Equal(decimal.NewFromInt(750)))
}

func TestNewPriceProviderRejectsNegative(t *testing.T) {
	_, err := NewPriceProvider(pricing.Snapshot{"SUPER": decimal.NewFromInt(-1)})
	require.Error(t, err)
}
