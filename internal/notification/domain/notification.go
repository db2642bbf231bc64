package notification

import (
	"context"
	"errors"
	"time"
)

// TypeShiftVarianceAlert marks notifications raised by an out-of-tolerance close.
const TypeShiftVarianceAlert = "SHIFT_VARIANCE_ALERT"

// ErrEmptyUserID is returned for a notification without recipient.
var ErrEmptyUserID = errors.New("notification: empty user id")

// Notification is one in-app message addressed to a user.
type Notification struct {
	ID        string
	UserID    string
	Type      string
	Title     string
	Message   string
	Link      string
	CreatedAt time.Time
}

// Validate checks the record before it is handed to a sink.
func (n Notification) Validate() error {
	if n.UserID == "" {
		return ErrEmptyUserID
	}
	if n.Type == "" {
		return errors.New("notification: empty type")
	}
	return nil
}

// Sink accepts notification records. Delivery to the user is out of its scope.
type Sink interface {
	Send(ctx context.Context, notifications []Notification) error
}

// RecipientDirectory finds users to notify.
type RecipientDirectory interface {
	ActiveUsersWithRoles(ctx context.Context, roles []string) ([]string, error)
}

// Recipients merges the manager with the executives, dropping blanks and duplicates.
func Recipients(managerID string, executives []string) []string {
	seen := make(map[string]struct{}, len(executives)+1)
	out := make([]string, 0, len(executives)+1)
	for _, id := range append([]string{managerID}, executives...) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
