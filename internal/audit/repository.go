package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository writes audit logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry. Request metadata on ctx fills IP and user agent
// when the entry leaves them empty.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Changes)
	}
	if meta, ok := RequestMetaFromContext(ctx); ok {
		if entry.IP == "" {
			entry.IP = meta.IP
		}
		if entry.UserAgent == "" {
			entry.UserAgent = meta.UserAgent
		}
	}
	var changes any
	if len(entry.Changes) > 0 {
		changes = []byte(entry.Changes)
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, user_id, action, entity_type, entity_id, station_id,
	changes, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10,$11
)`, entry.ID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID, entry.StationID,
		changes, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}
