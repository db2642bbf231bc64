package application

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"fuelstation-cloud/internal/observability/metrics"
	shift "fuelstation-cloud/internal/shift/domain"
)

const defaultWatchdogMaxOpen = 14 * time.Hour

// Watchdog flags shifts that stay open past their expected length.
type Watchdog struct {
	reader  Reader
	maxOpen time.Duration
	clock   Clock
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewWatchdog constructs a watchdog. A non-positive maxOpen uses 14h.
func NewWatchdog(reader Reader, maxOpen time.Duration, clock Clock, logger *zap.Logger) (*Watchdog, error) {
	if reader == nil {
		return nil, errors.New("shift watchdog: nil reader")
	}
	if maxOpen <= 0 {
		maxOpen = defaultWatchdogMaxOpen
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{reader: reader, maxOpen: maxOpen, clock: clock, logger: logger, cron: cron.New()}, nil
}

// Check lists open shifts older than the limit, logs them and publishes the count.
func (w *Watchdog) Check(ctx context.Context) ([]shift.Report, error) {
	open, err := w.reader.ListOpenShifts(ctx)
	if err != nil {
		return nil, err
	}
	now := w.clock.Now()
	var stale []shift.Report
	for _, report := range open {
		age := now.Sub(report.OpenedAt)
		if age <= w.maxOpen {
			continue
		}
		stale = append(stale, report)
		w.logger.Warn("shift open too long",
			zap.String("shift_id", report.ID),
			zap.String("station_id", report.StationID),
			zap.String("shift_date", report.ShiftDate.Format(shift.DateLayout)),
			zap.String("shift_type", report.ShiftType),
			zap.Duration("open_for", age),
		)
	}
	metrics.SetStaleOpenShifts(len(stale))
	return stale, nil
}

// Start schedules Check on a standard five-field cron spec until ctx is done.
func (w *Watchdog) Start(ctx context.Context, spec string) error {
	if _, err := w.cron.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := w.Check(runCtx); err != nil {
			w.logger.Error("shift watchdog check failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	w.logger.Info("starting shift watchdog", zap.String("schedule", spec), zap.Duration("max_open", w.maxOpen))
	w.cron.Start()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running check to finish.
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
}
