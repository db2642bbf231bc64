package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fuelstation-cloud/internal/audit"
	"fuelstation-cloud/internal/observability/metrics"
	shiftapp "fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

// Receipt is the outcome of a recorded delivery.
type Receipt struct {
	TankID        string
	StationID     string
	Volume        decimal.Decimal
	PreviousLevel decimal.Decimal
	NewLevel      decimal.Decimal
	Version       int64
	ShiftID       string
	RecordedAt    time.Time
}

// ErrForbidden is returned when the station guard rejects the tank's station.
var ErrForbidden = errors.New("delivery: station outside caller scope")

// StationGuard decides whether the caller in ctx may act on stationID.
type StationGuard func(ctx context.Context, stationID string) error

// Service records fuel received into a tank. It competes with shift close for
// the tank level and resolves the race through the tank version.
type Service struct {
	store  shiftapp.Store
	audit  audit.Logger
	clock  shiftapp.Clock
	guard  StationGuard
	logger *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithStationGuard installs a per-station access check run before the write.
func WithStationGuard(guard StationGuard) Option {
	return func(s *Service) {
		s.guard = guard
	}
}

// NewService constructs the delivery service.
func NewService(store shiftapp.Store, auditLogger audit.Logger, clock shiftapp.Clock, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("delivery service: nil store")
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if clock == nil {
		clock = shiftapp.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, audit: auditLogger, clock: clock, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record adds volume to the tank level and to the open shift's dip deliveries
// in one transaction.
func (s *Service) Record(ctx context.Context, tankID string, volume decimal.Decimal, userID string) (*Receipt, error) {
	receipt, err := s.record(ctx, tankID, volume)
	if err != nil {
		err = s.classify(err)
		if shift.IsCode(err, shift.CodeConcurrencyFail) {
			metrics.IncConflict("delivery")
			metrics.IncDelivery(metrics.ResultConflict)
		} else {
			metrics.IncDelivery(metrics.ResultRejected)
		}
		return nil, err
	}
	metrics.IncDelivery(metrics.ResultSuccess)
	s.logger.Info("delivery recorded",
		zap.String("tank_id", receipt.TankID),
		zap.String("volume", receipt.Volume.String()),
		zap.String("new_level", receipt.NewLevel.String()),
		zap.String("shift_id", receipt.ShiftID),
	)

	entry, err := audit.NewEntry(userID, "tank.delivery", "tank", receipt.TankID, receipt.StationID, map[string]any{
		"volume":        receipt.Volume,
		"previousLevel": receipt.PreviousLevel,
		"newLevel":      receipt.NewLevel,
		"shiftId":       receipt.ShiftID,
	}, receipt.RecordedAt)
	if err == nil {
		err = s.audit.Log(ctx, entry)
	}
	if err != nil {
		s.logger.Warn("audit write failed", zap.String("action", "tank.delivery"), zap.Error(err))
	}
	return receipt, nil
}

func (s *Service) record(ctx context.Context, tankID string, volume decimal.Decimal) (*Receipt, error) {
	if tankID == "" {
		return nil, shift.InvalidInput("tank id is required", nil)
	}
	if !volume.IsPositive() {
		return nil, shift.InvalidInput("delivery volume must be positive", nil)
	}
	volume = shift.Round4(volume)

	var receipt *Receipt
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx shiftapp.Tx) error {
		tank, err := tx.GetTank(ctx, tankID)
		if err != nil {
			return err
		}
		if tank == nil || !tank.Active {
			return shift.TankNotFound(tankID)
		}
		if s.guard != nil {
			if err := s.guard(ctx, tank.StationID); err != nil {
				return fmt.Errorf("%w: %v", ErrForbidden, err)
			}
		}
		level := tank.CurrentLevel.Add(volume)
		if !tank.Holds(level) {
			return shift.TankLevelOutOfRange(tank.ID, level, tank.Capacity)
		}

		ok, err := tx.SwapTankLevel(ctx, tank.ID, tank.Version, level)
		if err != nil {
			return err
		}
		if !ok {
			return shift.ConcurrencyFail(fmt.Sprintf("tank %s changed during delivery, retry", tank.ID), nil)
		}

		open, err := tx.FindOpenShift(ctx, tank.StationID)
		if err != nil {
			return err
		}
		shiftID := ""
		if open != nil {
			if err := tx.AddDipDeliveries(ctx, open.ID, tank.ID, volume); err != nil {
				return err
			}
			shiftID = open.ID
		}
		receipt = &Receipt{
			TankID:        tank.ID,
			StationID:     tank.StationID,
			Volume:        volume,
			PreviousLevel: tank.CurrentLevel,
			NewLevel:      level,
			Version:       tank.Version + 1,
			ShiftID:       shiftID,
			RecordedAt:    s.clock.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *Service) classify(err error) error {
	if errors.Is(err, ErrForbidden) {
		return err
	}
	if be, ok := shift.AsBusinessError(err); ok {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shift.Timeout(err)
	}
	s.logger.Error("delivery failed", zap.Error(err))
	return shift.Internal(err)
}
