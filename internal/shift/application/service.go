package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fuelstation-cloud/internal/audit"
	pricing "fuelstation-cloud/internal/pricing/domain"
	shift "fuelstation-cloud/internal/shift/domain"
)

const (
	defaultCloseTimeout = 15 * time.Second
	followUpTimeout     = 10 * time.Second
)

// Service runs the shift lifecycle: open, close and queries.
type Service struct {
	store        Store
	prices       pricing.Provider
	meter        shift.MeterCalculator
	tolerances   ToleranceSource
	alerts       AlertNotifier
	audit        audit.Logger
	clock        Clock
	closeTimeout time.Duration
	newID        func() string
	logger       *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithMeterCalculator sets the rollover modulus used at close.
func WithMeterCalculator(meter shift.MeterCalculator) Option {
	return func(s *Service) {
		s.meter = meter
	}
}

// WithToleranceSource sets how station thresholds are resolved.
func WithToleranceSource(source ToleranceSource) Option {
	return func(s *Service) {
		if source != nil {
			s.tolerances = source
		}
	}
}

// WithAlertNotifier sets the variance alert sink.
func WithAlertNotifier(notifier AlertNotifier) Option {
	return func(s *Service) {
		s.alerts = notifier
	}
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(logger audit.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCloseTimeout bounds the close transaction.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.closeTimeout = timeout
		}
	}
}

// WithIDGenerator overrides id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs the shift service.
func NewService(store Store, prices pricing.Provider, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("shift service: nil store")
	}
	if prices == nil {
		return nil, errors.New("shift service: nil price provider")
	}
	s := &Service{
		store:        store,
		prices:       prices,
		meter:        shift.DefaultMeterCalculator(),
		tolerances:   stationTolerance{},
		audit:        audit.NopLogger{},
		clock:        SystemClock{},
		closeTimeout: defaultCloseTimeout,
		newID:        newID,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetCurrentOpenShift returns the open shift of a station, or nil.
func (s *Service) GetCurrentOpenShift(ctx context.Context, stationID string) (*shift.Report, error) {
	if stationID == "" {
		return nil, shift.InvalidInput("station id is required", shift.ErrEmptyStationID)
	}
	report, err := s.store.FindOpenShift(ctx, stationID)
	if err != nil {
		return nil, s.classify(err)
	}
	return report, nil
}

// GetShift loads a shift with its sales and dips.
func (s *Service) GetShift(ctx context.Context, shiftID string) (*shift.Report, error) {
	if shiftID == "" {
		return nil, shift.InvalidInput("shift id is required", nil)
	}
	report, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, s.classify(err)
	}
	if report == nil {
		return nil, shift.ShiftNotFound(shiftID)
	}
	return report, nil
}

// classify maps any failure onto the business error taxonomy.
func (s *Service) classify(err error) error {
	if err == nil {
		return nil
	}
	if be, ok := shift.AsBusinessError(err); ok {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shift.Timeout(err)
	}
	s.logger.Error("shift operation failed", zap.Error(err))
	return shift.Internal(err)
}

func (s *Service) logRejection(op string, err error, fields ...zap.Field) {
	be, ok := shift.AsBusinessError(err)
	if !ok {
		return
	}
	fields = append(fields, zap.String("code", string(be.Code)))
	switch {
	case be.Code == shift.CodeInternal:
		// already logged with its cause by classify
	case be.Retryable:
		s.logger.Warn(op+" conflict", append(fields, zap.Error(be))...)
	default:
		s.logger.Info(op+" rejected", fields...)
	}
}

func (s *Service) writeAudit(ctx context.Context, userID, action string, report *shift.Report, changes any) {
	entry, err := audit.NewEntry(userID, action, "shift_report", report.ID, report.StationID, changes, s.clock.Now())
	if err != nil {
		s.logger.Warn("audit entry encode failed", zap.String("action", action), zap.Error(err))
		return
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Warn("audit write failed", zap.String("action", action), zap.String("shift_id", report.ID), zap.Error(err))
	}
}
