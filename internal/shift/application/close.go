package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	masterdata "fuelstation-cloud/internal/masterdata/domain"
	"fuelstation-cloud/internal/observability/metrics"
	shift "fuelstation-cloud/internal/shift/domain"
)

// SaleReading is the closing meter index of a nozzle.
type SaleReading struct {
	NozzleID     string
	ClosingIndex decimal.Decimal
}

// DipReading is the physical level measured in a tank.
type DipReading struct {
	TankID        string
	PhysicalLevel decimal.Decimal
}

// CloseShiftCommand closes an open shift.
type CloseShiftCommand struct {
	ShiftID        string
	Sales          []SaleReading
	TankDips       []DipReading
	Cash           shift.CashInput
	Justification  string
	UserID         string
	IdempotencyKey string
}

func (s *Service) validateClose(cmd CloseShiftCommand) error {
	if cmd.ShiftID == "" {
		return shift.InvalidInput("shift id is required", nil)
	}
	if err := cmd.Cash.Validate(); err != nil {
		return shift.InvalidInput("cash amounts must not be negative", err)
	}
	seen := make(map[string]struct{}, len(cmd.Sales))
	for _, reading := range cmd.Sales {
		if reading.NozzleID == "" {
			return shift.InvalidInput("nozzle id is required", nil)
		}
		if _, dup := seen[reading.NozzleID]; dup {
			return shift.InvalidInput(fmt.Sprintf("duplicate reading for nozzle %s", reading.NozzleID), nil)
		}
		seen[reading.NozzleID] = struct{}{}
		if err := s.meter.ValidateIndex(reading.ClosingIndex); err != nil {
			return shift.InvalidInput(fmt.Sprintf("closing index of nozzle %s is out of range", reading.NozzleID), err)
		}
	}
	seen = make(map[string]struct{}, len(cmd.TankDips))
	for _, reading := range cmd.TankDips {
		if reading.TankID == "" {
			return shift.InvalidInput("tank id is required", nil)
		}
		if _, dup := seen[reading.TankID]; dup {
			return shift.InvalidInput(fmt.Sprintf("duplicate dip for tank %s", reading.TankID), nil)
		}
		seen[reading.TankID] = struct{}{}
	}
	return nil
}

type tankSwap struct {
	tankID  string
	version int64
	level   decimal.Decimal
}

type closeOutcome struct {
	report  *shift.Report
	station *masterdata.Station
	replay  bool
}

// CloseShift reconciles an open shift and closes it. A repeated idempotency
// key returns the stored result without recomputing or repeating side effects.
func (s *Service) CloseShift(ctx context.Context, cmd CloseShiftCommand) (*shift.Report, error) {
	started := s.clock.Now()
	outcome, err := s.closeShift(ctx, cmd)
	if err != nil {
		err = s.classify(err)
		s.logRejection("shift close", err, zap.String("shift_id", cmd.ShiftID))
		if shift.IsCode(err, shift.CodeJustificationRequired) {
			metrics.IncJustificationRequired()
		}
		if shift.IsCode(err, shift.CodeConcurrencyFail) {
			metrics.IncConflict("close")
		}
		metrics.ObserveShiftClose(resultFor(err), s.clock.Now().Sub(started))
		return nil, err
	}
	if outcome.replay {
		metrics.ObserveShiftClose(metrics.ResultReplay, s.clock.Now().Sub(started))
		s.logger.Info("shift close replayed",
			zap.String("shift_id", outcome.report.ID),
			zap.String("idempotency_key", cmd.IdempotencyKey),
		)
		return outcome.report, nil
	}
	metrics.ObserveShiftClose(metrics.ResultSuccess, s.clock.Now().Sub(started))

	report := outcome.report
	s.logger.Info("shift closed",
		zap.String("shift_id", report.ID),
		zap.String("station_id", report.StationID),
		zap.String("total_revenue", report.TotalRevenue.String()),
		zap.String("cash_variance", report.CashVariance.String()),
		zap.String("stock_variance", report.StockVariance.String()),
	)

	// Committed: follow-ups must not die with the caller's request.
	followCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()
	s.raiseAlerts(followCtx, outcome.station, report)
	s.writeAudit(followCtx, cmd.UserID, "shift.close", report, map[string]any{
		"totalRevenue":          report.TotalRevenue,
		"theoreticalCash":       report.TheoreticalCash,
		"cashVariance":          report.CashVariance,
		"stockVariance":         report.StockVariance,
		"justificationProvided": report.Justification != "",
		"idempotencyKey":        report.IdempotencyKey,
	})
	return report, nil
}

func (s *Service) closeShift(ctx context.Context, cmd CloseShiftCommand) (closeOutcome, error) {
	key := strings.TrimSpace(cmd.IdempotencyKey)
	cmd.IdempotencyKey = key
	if key != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return closeOutcome{}, err
		}
		if existing != nil {
			return replayOutcome(existing, cmd.ShiftID)
		}
	}
	if err := s.validateClose(cmd); err != nil {
		return closeOutcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.closeTimeout)
	defer cancel()

	var outcome closeOutcome
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if key != "" {
			// A racing request with the same key may have committed while we
			// waited for the transaction.
			existing, err := tx.FindByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				var replayErr error
				outcome, replayErr = replayOutcome(existing, cmd.ShiftID)
				return replayErr
			}
		}

		report, err := tx.LockShift(ctx, cmd.ShiftID)
		if err != nil {
			return err
		}
		if report == nil {
			return shift.ShiftNotFound(cmd.ShiftID)
		}
		if !report.IsOpen() {
			return shift.ShiftNotOpen(cmd.ShiftID)
		}

		station, err := tx.GetStation(ctx, report.StationID)
		if err != nil {
			return err
		}
		if station == nil {
			return shift.StationNotFound(report.StationID)
		}

		totalRevenue := decimal.Zero
		soldByTank := make(map[string]decimal.Decimal)
		sales := make([]*shift.Sale, 0, len(cmd.Sales))
		for _, reading := range cmd.Sales {
			sale, ok := report.SaleByNozzle(reading.NozzleID)
			if !ok {
				return shift.NozzleNotInShift(reading.NozzleID)
			}
			volume, rolledOver, err := s.meter.VolumeSold(sale.OpeningIndex, reading.ClosingIndex)
			if err != nil {
				if errors.Is(err, shift.ErrNegativeVolume) {
					s.logger.Error("negative volume after rollover, meter max misconfigured",
						zap.String("shift_id", report.ID),
						zap.String("nozzle_id", sale.NozzleID),
						zap.String("opening_index", sale.OpeningIndex.String()),
						zap.String("closing_index", reading.ClosingIndex.String()),
						zap.String("meter_max", s.meter.Max().String()),
					)
					return shift.Internal(err)
				}
				return shift.InvalidInput(fmt.Sprintf("invalid readings for nozzle %s", sale.NozzleID), err)
			}
			if rolledOver {
				s.logger.Info("meter rollover",
					zap.String("shift_id", report.ID),
					zap.String("nozzle_id", sale.NozzleID),
					zap.String("volume", volume.String()),
				)
			}
			revenue := shift.Revenue(volume, sale.UnitPrice)
			totalRevenue = totalRevenue.Add(revenue)
			soldByTank[sale.TankID] = soldByTank[sale.TankID].Add(volume)
			sale.Complete(reading.ClosingIndex, volume, revenue)
			sales = append(sales, sale)
		}

		cash := shift.ReconcileCash(totalRevenue, cmd.Cash)

		variances := make([]decimal.Decimal, 0, len(cmd.TankDips))
		dips := make([]*shift.TankDip, 0, len(cmd.TankDips))
		swaps := make([]tankSwap, 0, len(cmd.TankDips))
		for _, reading := range cmd.TankDips {
			dip, ok := report.DipByTank(reading.TankID)
			if !ok {
				return shift.TankNotInShift(reading.TankID)
			}
			tank, err := tx.GetTank(ctx, reading.TankID)
			if err != nil {
				return err
			}
			if tank == nil {
				return shift.TankNotInShift(reading.TankID)
			}
			if !tank.Holds(reading.PhysicalLevel) {
				return shift.TankLevelOutOfRange(tank.ID, reading.PhysicalLevel, tank.Capacity)
			}
			stock := shift.ReconcileStock(shift.StockInput{
				OpeningLevel:  dip.OpeningLevel,
				Deliveries:    dip.Deliveries,
				SoldVolume:    soldByTank[dip.TankID],
				PhysicalLevel: reading.PhysicalLevel,
			})
			dip.Complete(reading.PhysicalLevel, stock)
			dips = append(dips, dip)
			variances = append(variances, stock.StockVariance)
			swaps = append(swaps, tankSwap{tankID: tank.ID, version: tank.Version, level: reading.PhysicalLevel})
		}
		totalStock := shift.TotalStockVariance(variances...)

		justification := strings.TrimSpace(cmd.Justification)
		cashVariance := shift.Round4(cash.CashVariance)
		stockVariance := shift.Round4(totalStock)
		if (!cashVariance.IsZero() || !stockVariance.IsZero()) && justification == "" {
			return shift.JustificationRequired(cashVariance, stockVariance)
		}

		for _, sale := range sales {
			if err := tx.UpdateSale(ctx, *sale); err != nil {
				return err
			}
		}
		for _, dip := range dips {
			if err := tx.UpdateTankDip(ctx, *dip); err != nil {
				return err
			}
		}
		for _, swap := range swaps {
			ok, err := tx.SwapTankLevel(ctx, swap.tankID, swap.version, shift.Round4(swap.level))
			if err != nil {
				return err
			}
			if !ok {
				return shift.ConcurrencyFail(fmt.Sprintf("tank %s changed during close, retry", swap.tankID), nil)
			}
		}

		if err := report.Close(shift.Closing{
			Cash:           cash,
			CashInput:      cmd.Cash,
			StockVariance:  totalStock,
			Justification:  justification,
			IdempotencyKey: key,
			ClosedBy:       cmd.UserID,
			ClosedAt:       s.clock.Now(),
		}); err != nil {
			return shift.ShiftNotOpen(report.ID)
		}
		if err := tx.MarkClosed(ctx, report); err != nil {
			return err
		}
		for _, sale := range sales {
			if err := tx.UpdateNozzleMeterIndex(ctx, sale.NozzleID, sale.ClosingIndex.Decimal); err != nil {
				return err
			}
		}

		outcome = closeOutcome{report: report, station: station}
		return nil
	})
	if err != nil {
		return closeOutcome{}, err
	}
	return outcome, nil
}

// replayOutcome returns the stored shift for a reused key. A key bound to a
// different shift is a client error.
func replayOutcome(existing *shift.Report, shiftID string) (closeOutcome, error) {
	if shiftID != "" && existing.ID != shiftID {
		return closeOutcome{}, shift.InvalidInput("idempotency key already used for another shift", nil)
	}
	return closeOutcome{report: existing, replay: true}, nil
}

func (s *Service) raiseAlerts(ctx context.Context, station *masterdata.Station, report *shift.Report) {
	if station == nil {
		return
	}
	tol := s.tolerances.Resolve(*station)
	breach := shift.EvaluateTolerance(tol, report.CashVariance, report.StockVariance)
	if !breach.Exceeded() {
		return
	}
	if breach.CashExceeded {
		metrics.IncAlert("cash")
	}
	if breach.StockExceeded {
		metrics.IncAlert("stock")
	}
	if s.alerts == nil {
		s.logger.Warn("variance tolerance exceeded, no notifier configured", zap.String("shift_id", report.ID))
		return
	}
	alert := VarianceAlert{
		ShiftID:            report.ID,
		StationID:          station.ID,
		StationName:        station.DisplayName(),
		ManagerID:          station.ManagerID,
		ShiftDate:          report.ShiftDate,
		ShiftType:          report.ShiftType,
		CashVariance:       report.CashVariance,
		TotalStockVariance: report.StockVariance,
		Tolerance:          tol,
		CashExceeded:       breach.CashExceeded,
		StockExceeded:      breach.StockExceeded,
		Justification:      report.Justification,
		ClosedBy:           report.ClosedBy,
	}
	if err := s.alerts.NotifyVariance(ctx, alert); err != nil {
		s.logger.Warn("variance alert enqueue failed", zap.String("shift_id", report.ID), zap.Error(err))
	}
}
