package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
	"fuelstation-cloud/internal/observability/metrics"
	shift "fuelstation-cloud/internal/shift/domain"
)

// OpenShiftCommand opens a shift for a station.
type OpenShiftCommand struct {
	StationID string
	ShiftDate time.Time
	ShiftType string
	UserID    string
}

func (c OpenShiftCommand) validate() error {
	switch {
	case c.StationID == "":
		return shift.InvalidInput("station id is required", shift.ErrEmptyStationID)
	case c.ShiftDate.IsZero():
		return shift.InvalidInput("shift date is required", shift.ErrInvalidShiftDate)
	case c.ShiftType == "":
		return shift.InvalidInput("shift type is required", shift.ErrEmptyShiftType)
	}
	return nil
}

// OpenShift freezes prices, meter indexes and tank levels into a new OPEN
// shift with one sale stub per active nozzle and one dip stub per active tank.
func (s *Service) OpenShift(ctx context.Context, cmd OpenShiftCommand) (*shift.Report, error) {
	started := s.clock.Now()
	report, err := s.openShift(ctx, cmd)
	if err != nil {
		err = s.classify(err)
		s.logRejection("shift open", err, zap.String("station_id", cmd.StationID))
		metrics.ObserveShiftOpen(resultFor(err), s.clock.Now().Sub(started))
		return nil, err
	}
	metrics.ObserveShiftOpen(metrics.ResultSuccess, s.clock.Now().Sub(started))

	s.logger.Info("shift opened",
		zap.String("shift_id", report.ID),
		zap.String("station_id", report.StationID),
		zap.String("shift_date", report.ShiftDate.Format(shift.DateLayout)),
		zap.String("shift_type", report.ShiftType),
		zap.Int("sales", len(report.Sales)),
		zap.Int("tank_dips", len(report.TankDips)),
	)
	s.writeAudit(ctx, cmd.UserID, "shift.open", report, map[string]any{
		"shiftDate":            report.ShiftDate.Format(shift.DateLayout),
		"shiftType":            report.ShiftType,
		"appliedPriceSnapshot": report.AppliedPriceSnapshot,
		"nozzles":              len(report.Sales),
		"tanks":                len(report.TankDips),
	})
	return report, nil
}

func (s *Service) openShift(ctx context.Context, cmd OpenShiftCommand) (*shift.Report, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	shiftDate := shift.NormalizeDate(cmd.ShiftDate)

	var opened *shift.Report
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		station, err := tx.GetStation(ctx, cmd.StationID)
		if err != nil {
			return err
		}
		if station == nil || !station.Active {
			return shift.StationNotFound(cmd.StationID)
		}

		exists, err := tx.ShiftExists(ctx, cmd.StationID, shiftDate, cmd.ShiftType)
		if err != nil {
			return err
		}
		if exists {
			return shift.ShiftDuplicate(cmd.StationID, shiftDate.Format(shift.DateLayout), cmd.ShiftType)
		}

		open, err := tx.FindOpenShift(ctx, cmd.StationID)
		if err != nil {
			return err
		}
		if open != nil {
			return shift.PreviousShiftOpen(open.ID)
		}

		now := s.clock.Now()
		snapshot, err := s.prices.SnapshotAt(ctx, cmd.StationID, now)
		if err != nil {
			return err
		}
		if len(snapshot) == 0 {
			return shift.NoActivePrices(nil)
		}

		nozzles, err := tx.ListActiveNozzles(ctx, cmd.StationID)
		if err != nil {
			return err
		}
		tanks, err := tx.ListActiveTanks(ctx, cmd.StationID)
		if err != nil {
			return err
		}
		if missing := snapshot.Missing(nozzleFuelTypes(nozzles)); len(missing) > 0 {
			return shift.NoActivePrices(missing)
		}

		indexes, err := tx.LastClosingIndexes(ctx, cmd.StationID)
		if err != nil {
			return err
		}
		levels, err := tx.LastClosingLevels(ctx, cmd.StationID)
		if err != nil {
			return err
		}

		report, err := shift.NewReport(s.newID(), cmd.StationID, shiftDate, cmd.ShiftType, snapshot, cmd.UserID, now)
		if err != nil {
			return shift.InvalidInput(err.Error(), err)
		}
		for _, nozzle := range nozzles {
			opening, ok := indexes[nozzle.ID]
			if !ok {
				opening = nozzle.MeterIndex
			}
			price, _ := snapshot.PriceFor(nozzle.FuelType)
			report.Sales = append(report.Sales, shift.Sale{
				ID:           s.newID(),
				ShiftID:      report.ID,
				NozzleID:     nozzle.ID,
				TankID:       nozzle.TankID,
				FuelType:     nozzle.FuelType,
				OpeningIndex: shift.Round4(opening),
				UnitPrice:    shift.Round4(price),
			})
		}
		for _, tank := range tanks {
			opening, ok := levels[tank.ID]
			if !ok {
				opening = tank.CurrentLevel
			}
			report.TankDips = append(report.TankDips, shift.TankDip{
				ID:           s.newID(),
				ShiftID:      report.ID,
				TankID:       tank.ID,
				FuelType:     tank.FuelType,
				OpeningLevel: shift.Round4(opening),
				Deliveries:   decimal.Zero,
			})
		}

		if err := tx.InsertShift(ctx, report); err != nil {
			return err
		}
		opened = report
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

func nozzleFuelTypes(nozzles []masterdata.Nozzle) []string {
	types := make([]string, 0, len(nozzles))
	for _, nozzle := range nozzles {
		types = append(types, nozzle.FuelType)
	}
	return types
}

// stationTolerance applies the station row on top of the built-in defaults.
type stationTolerance struct{}

func (stationTolerance) Resolve(station masterdata.Station) masterdata.Tolerance {
	return masterdata.DefaultTolerance().Merge(station.Tolerance)
}

func newID() string {
	return uuid.NewString()
}

func resultFor(err error) string {
	be, ok := shift.AsBusinessError(err)
	switch {
	case !ok || be.Code == shift.CodeInternal:
		return metrics.ResultError
	case be.Retryable:
		return metrics.ResultConflict
	default:
		return metrics.ResultRejected
	}
}
