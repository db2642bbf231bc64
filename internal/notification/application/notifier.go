package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	notification "fuelstation-cloud/internal/notification/domain"
	shiftapp "fuelstation-cloud/internal/shift/application"
	shift "fuelstation-cloud/internal/shift/domain"
)

const (
	defaultAlertTitle = "Shift variance alert"
	defaultLinkBase   = "/shifts"
)

// DefaultExecutiveRoles receive every variance alert in addition to the station manager.
var DefaultExecutiveRoles = []string{"super_admin", "ceo", "finance_director"}

// Clock provides time for notification records.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// VarianceNotifier turns variance alerts into notification records for the
// station manager and the executive roles.
type VarianceNotifier struct {
	directory    notification.RecipientDirectory
	sink         notification.Sink
	template     *Template
	roles        []string
	linkBase     string
	clock        Clock
	dedupeWindow time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	sent map[string]sendRecord
}

var _ shiftapp.AlertNotifier = (*VarianceNotifier)(nil)

// Option configures the notifier.
type Option func(*VarianceNotifier)

// WithExecutiveRoles overrides the roles that receive every alert.
func WithExecutiveRoles(roles []string) Option {
	return func(n *VarianceNotifier) {
		if len(roles) > 0 {
			n.roles = append([]string(nil), roles...)
		}
	}
}

// WithLinkBase sets the prefix of the shift link carried by notifications.
func WithLinkBase(base string) Option {
	return func(n *VarianceNotifier) {
		if base != "" {
			n.linkBase = strings.TrimRight(base, "/")
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *VarianceNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithDedupeWindow suppresses identical alerts for the same shift within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *VarianceNotifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *VarianceNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewVarianceNotifier constructs the notifier. A nil template uses DefaultTemplate.
func NewVarianceNotifier(directory notification.RecipientDirectory, sink notification.Sink, template *Template, opts ...Option) (*VarianceNotifier, error) {
	if directory == nil {
		return nil, errors.New("variance notifier: nil recipient directory")
	}
	if sink == nil {
		return nil, errors.New("variance notifier: nil sink")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &VarianceNotifier{
		directory: directory,
		sink:      sink,
		template:  template,
		roles:     DefaultExecutiveRoles,
		linkBase:  defaultLinkBase,
		clock:     systemClock{},
		logger:    zap.NewNop(),
		sent:      make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// NotifyVariance implements shiftapp.AlertNotifier.
func (n *VarianceNotifier) NotifyVariance(ctx context.Context, alert shiftapp.VarianceAlert) error {
	if alert.ShiftID == "" {
		return errors.New("variance notifier: empty shift id")
	}
	executives, err := n.directory.ActiveUsersWithRoles(ctx, n.roles)
	if err != nil {
		return err
	}
	recipients := notification.Recipients(alert.ManagerID, executives)
	if len(recipients) == 0 {
		n.logger.Warn("variance alert without recipients", zap.String("shift_id", alert.ShiftID))
		return nil
	}

	message, err := n.template.Render(buildTemplateData(alert))
	if err != nil {
		return err
	}
	if !n.shouldSend(alert.ShiftID, message) {
		return nil
	}

	now := n.clock.Now().UTC()
	link := n.linkBase + "/" + alert.ShiftID
	records := make([]notification.Notification, 0, len(recipients))
	for _, userID := range recipients {
		records = append(records, notification.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			Type:      notification.TypeShiftVarianceAlert,
			Title:     defaultAlertTitle,
			Message:   message,
			Link:      link,
			CreatedAt: now,
		})
	}
	if err := n.sink.Send(ctx, records); err != nil {
		return err
	}
	n.markSent(alert.ShiftID, message)
	n.logger.Info("variance alert enqueued",
		zap.String("shift_id", alert.ShiftID),
		zap.Int("recipients", len(records)),
	)
	return nil
}

func buildTemplateData(alert shiftapp.VarianceAlert) TemplateData {
	station := alert.StationName
	if station == "" {
		station = alert.StationID
	}
	return TemplateData{
		ShiftID:        alert.ShiftID,
		ShiftDate:      alert.ShiftDate.Format(shift.DateLayout),
		ShiftType:      alert.ShiftType,
		Station:        station,
		StationID:      alert.StationID,
		CashVariance:   alert.CashVariance.StringFixed(2),
		CashTolerance:  alert.Tolerance.CashVariance.String(),
		CashExceeded:   alert.CashExceeded,
		StockVariance:  alert.TotalStockVariance.StringFixed(2),
		StockTolerance: alert.Tolerance.StockVariance.String(),
		StockExceeded:  alert.StockExceeded,
		Justification:  alert.Justification,
		ClosedBy:       alert.ClosedBy,
	}
}

func (n *VarianceNotifier) shouldSend(shiftID, content string) bool {
	if n.dedupeWindow <= 0 {
		return true
	}
	n.mu.Lock()
	record, ok := n.sent[shiftID]
	n.mu.Unlock()
	if !ok {
		return true
	}
	now := n.clock.Now().UTC()
	return record.hash != hashContent(content) || now.Sub(record.at) >= n.dedupeWindow
}

func (n *VarianceNotifier) markSent(shiftID, content string) {
	if n.dedupeWindow <= 0 {
		return
	}
	n.mu.Lock()
	n.sent[shiftID] = sendRecord{at: n.clock.Now().UTC(), hash: hashContent(content)}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
