package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pricing "fuelstation-cloud/internal/pricing/domain"
	"fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

func TestOpenShiftCreatesStubs(t *testing.T) {
	f := newFixture(t)
	report := f.open(t, "MORNING")

	assert.Equal(t, shift.StatusOpen, report.Status)
	assert.Equal(t, "mgr-1", report.OpenedBy)
	assert.True(t, decimal.NewFromInt(750).Equal(report.AppliedPriceSnapshot["SUPER"]))

	require.Len(t, report.Sales, 3)
	nz1, ok := report.SaleByNozzle("nz-1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(999995).Equal(nz1.OpeningIndex))
	assert.True(t, decimal.NewFromInt(750).Equal(nz1.UnitPrice))
	assert.Equal(t, "tk-s", nz1.TankID)
	assert.False(t, nz1.ClosingIndex.Valid)
	nz3, ok := report.SaleByNozzle("nz-3")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(690).Equal(nz3.UnitPrice))

	require.Len(t, report.TankDips, 2)
	dip, ok := report.DipByTank("tk-g")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(8000).Equal(dip.OpeningLevel))
	assert.True(t, dip.Deliveries.IsZero())

	current, err := f.service.GetCurrentOpenShift(context.Background(), "st-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, report.ID, current.ID)
	assert.Equal(t, []string{"shift.open"}, f.audit.Actions())
}

func TestOpenShiftUsesLastClosingValues(t *testing.T) {
	f := newFixture(t)
	first := f.open(t, "MORNING")
	_, err := f.service.CloseShift(context.Background(), balancedClose(t, first.ID))
	require.NoError(t, err)

	f.clock.Advance(8 * time.Hour)
	next := f.open(t, "EVENING")

	nz1, ok := next.SaleByNozzle("nz-1")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(10).Equal(nz1.OpeningIndex))
	nz2, ok := next.SaleByNozzle("nz-2")
	require.True(t, ok)
	assert.True(t, dec(t, "2085.0001").Equal(nz2.OpeningIndex))
	dip, ok := next.DipByTank("tk-s")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(9900).Equal(dip.OpeningLevel))
}

func TestOpenShiftRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("inactive station", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-off", ShiftDate: openedAt, ShiftType: "MORNING", UserID: "u",
		})
		requireCode(t, err, shift.CodeStationNotFound)
	})

	t.Run("unknown station", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-404", ShiftDate: openedAt, ShiftType: "MORNING", UserID: "u",
		})
		requireCode(t, err, shift.CodeStationNotFound)
	})

	t.Run("duplicate", func(t *testing.T) {
		f := newFixture(t)
		first := f.open(t, "MORNING")
		_, err := f.service.CloseShift(ctx, balancedClose(t, first.ID))
		require.NoError(t, err)

		_, err = f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-1", ShiftDate: openedAt, ShiftType: "MORNING", UserID: "u",
		})
		requireCode(t, err, shift.CodeShiftDuplicate)
	})

	t.Run("previous shift open", func(t *testing.T) {
		f := newFixture(t)
		first := f.open(t, "MORNING")
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-1", ShiftDate: openedAt, ShiftType: "EVENING", UserID: "u",
		})
		be := requireCode(t, err, shift.CodePreviousShiftOpen)
		assert.Equal(t, first.ID, be.Details["openShiftId"])
	})

	t.Run("no prices", func(t *testing.T) {
		f := newFixture(t)
		f.prices.prices = pricing.Snapshot{}
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-1", ShiftDate: openedAt, ShiftType: "MORNING", UserID: "u",
		})
		be := requireCode(t, err, shift.CodeNoActivePrices)
		assert.Nil(t, be.Details)
	})

	t.Run("price missing for a nozzle fuel", func(t *testing.T) {
		f := newFixture(t)
		f.prices.prices = pricing.Snapshot{"SUPER": decimal.NewFromInt(750)}
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-1", ShiftDate: openedAt, ShiftType: "MORNING", UserID: "u",
		})
		be := requireCode(t, err, shift.CodeNoActivePrices)
		assert.Equal(t, []string{"GASOIL"}, be.Details["missingFuelTypes"])
	})

	t.Run("missing shift type", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-1", ShiftDate: openedAt, UserID: "u",
		})
		requireCode(t, err, shift.CodeInvalidInput)
	})

	t.Run("nothing persisted on rejection", func(t *testing.T) {
		f := newFixture(t)
		f.prices.prices = pricing.Snapshot{}
		_, err := f.service.OpenShift(ctx, application.OpenShiftCommand{
			StationID: "st-1", ShiftDate: openedAt, ShiftType: "MORNING", UserID: "u",
		})
		require.Error(t, err)
		current, err := f.service.GetCurrentOpenShift(ctx, "st-1")
		require.NoError(t, err)
		assert.Nil(t, current)
		assert.Empty(t, f.audit.Actions())
	})
}

func TestGetShiftNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.GetShift(context.Background(), "missing")
	requireCode(t, err, shift.CodeShiftNotFound)
}
