package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	notification "fuelstation-cloud/internal/notification/domain"
)

// MultiSink forwards notifications to several sinks and joins their errors.
type MultiSink struct {
	sinks []notification.Sink
}

// NewMultiSink constructs a MultiSink.
func NewMultiSink(sinks ...notification.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Send forwards to all sinks, even after one fails.
func (m *MultiSink) Send(ctx context.Context, notifications []notification.Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, sink := range m.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Send(ctx, notifications); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes notifications to the log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send implements notification.Sink.
func (s *LogSink) Send(_ context.Context, notifications []notification.Notification) error {
	for _, n := range notifications {
		s.logger.Info("notification",
			zap.String("id", n.ID),
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.String("link", n.Link),
		)
	}
	return nil
}
