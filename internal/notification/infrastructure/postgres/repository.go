package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	notification "fuelstation-cloud/internal/notification/domain"
)

const (
	defaultNotificationsTable = "notifications"
	defaultUsersTable         = "users"
)

// NotificationRepository stores notification records.
type NotificationRepository struct {
	db    *sql.DB
	table string
}

// NewNotificationRepository constructs a repository.
func NewNotificationRepository(db *sql.DB, table string) *NotificationRepository {
	if table == "" {
		table = defaultNotificationsTable
	}
	return &NotificationRepository{db: db, table: table}
}

// Send inserts all records in one transaction.
func (r *NotificationRepository) Send(ctx context.Context, notifications []notification.Notification) (err error) {
	if r == nil || r.db == nil {
		return errors.New("notification repo: nil db")
	}
	if len(notifications) == 0 {
		return nil
	}
	for _, n := range notifications {
		if err := n.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, type, title, message, link, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`, r.table)
	for _, n := range notifications {
		if _, err = tx.ExecContext(ctx, query, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UserDirectory resolves alert recipients from the users table.
type UserDirectory struct {
	db    *sql.DB
	table string
}

// NewUserDirectory constructs a directory.
func NewUserDirectory(db *sql.DB, table string) *UserDirectory {
	if table == "" {
		table = defaultUsersTable
	}
	return &UserDirectory{db: db, table: table}
}

// ActiveUsersWithRoles lists active users holding any of roles.
func (d *UserDirectory) ActiveUsersWithRoles(ctx context.Context, roles []string) ([]string, error) {
	if d == nil || d.db == nil {
		return nil, errors.New("user directory: nil db")
	}
	if len(roles) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT id
FROM %s
WHERE is_active AND role = ANY($1)
ORDER BY id`, d.table)
	rows, err := d.db.QueryContext(ctx, query, roles)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
