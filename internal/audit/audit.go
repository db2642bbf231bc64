package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is an append-only audit record.
type Entry struct {
	ID            string
	UserID        string
	Action        string
	EntityType    string
	EntityID      string
	StationID     string
	Changes       json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NopLogger discards entries.
type NopLogger struct{}

// Log implements Logger.
func (NopLogger) Log(context.Context, Entry) error { return nil }

// NewID generates an audit id.
func NewID() string {
	return uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for change payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewEntry marshals changes and fills id, digest and timestamp.
func NewEntry(userID, action, entityType, entityID, stationID string, changes any, at time.Time) (Entry, error) {
	payload, err := json.Marshal(changes)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:            NewID(),
		UserID:        userID,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		StationID:     stationID,
		Changes:       payload,
		PayloadDigest: DigestJSON(payload),
		CreatedAt:     at.UTC(),
	}, nil
}

type requestMetaKey struct{}

// RequestMeta carries caller network details into audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta stores request details on ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns request details, if any.
func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	if ctx == nil {
		return RequestMeta{}, false
	}
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}
