package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/task-notifications/internal/model"
)

// SQLiteStore implements Store and KV using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
//
// The pool is limited to one connection: both push delivery paths write
// concurrently and every read-modify-write runs in a transaction, so a
// single connection serializes them. It also keeps ":memory:" databases
// from splitting across connections.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const notificationColumns = "id, task_ref, kind, status, title, message, created_at, due_at"

// InsertNotification inserts n unless its id is already stored.
func (s *SQLiteStore) InsertNotification(
	ctx context.Context,
	n model.Notification,
) (bool, error) {
	if n.ID == "" {
		return false, fmt.Errorf("inserting notification: empty id")
	}
	if n.Status == "" {
		n.Status = model.StatusPending
	}
	if n.Kind == "" {
		n.Kind = model.KindInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	var dueAt sql.NullTime
	if n.DueAt != nil {
		dueAt = sql.NullTime{Time: n.DueAt.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TaskRef, string(n.Kind), string(n.Status),
		n.Title, n.Message, n.CreatedAt.UTC(), dueAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting notification %s: %w", n.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading insert result for %s: %w", n.ID, err)
	}

	return affected == 1, nil
}

// GetNotification retrieves a single notification by its ID.
func (s *SQLiteStore) GetNotification(
	ctx context.Context,
	id string,
) (*model.Notification, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id,
	)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %s: %w", id, err)
	}

	return &n, nil
}

// ListNotifications retrieves notifications matching f, newest first.
func (s *SQLiteStore) ListNotifications(
	ctx context.Context,
	f NotificationFilter,
) ([]model.Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications"
	var (
		where []string
		args  []interface{}
	)

	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.DueAfter != nil {
		where = append(where, "due_at IS NOT NULL AND due_at > ?")
		args = append(args, f.DueAfter.UTC())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// UpdateNotificationStatus moves a notification forward in its lifecycle.
func (s *SQLiteStore) UpdateNotificationStatus(
	ctx context.Context,
	id string,
	status model.Status,
) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("updating notification %s: unknown status %q", id, status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(ctx, &current, "SELECT status FROM notifications WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("updating notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("reading status of %s: %w", id, err)
	}

	from := model.Status(current)
	if from == status {
		return false, nil
	}
	if !model.CanTransition(from, status) {
		return false, fmt.Errorf("%s -> %s for %s: %w", from, status, id, model.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE notifications SET status = ? WHERE id = ?", string(status), id,
	); err != nil {
		return false, fmt.Errorf("updating status of %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing status of %s: %w", id, err)
	}
	return true, nil
}

// DeleteNotification removes a notification by ID.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	return nil
}

// CountUnread returns the number of pending notifications.
func (s *SQLiteStore) CountUnread(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE status = ?", string(model.StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// GetValue reads a preference value.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, "SELECT value FROM preferences WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading preference %q: %w", key, err)
	}
	return value, nil
}

// SetValue writes a preference value.
func (s *SQLiteStore) SetValue(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing preference %q: %w", key, err)
	}
	return nil
}

// UpdateValue runs fn inside a transaction so the read and the write of
// key cannot interleave with another update.
func (s *SQLiteStore) UpdateValue(
	ctx context.Context,
	key string,
	fn func(current []byte) ([]byte, error),
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.GetContext(ctx, &current, "SELECT value FROM preferences WHERE key = ?", key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading preference %q: %w", key, err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, next, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("writing preference %q: %w", key, err)
	}

	return tx.Commit()
}

// rowScanner is satisfied by both *sqlx.Row and *sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanNotification scans a notification row selected with notificationColumns.
func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n         model.Notification
		kind      string
		status    string
		createdAt time.Time
		dueAt     sql.NullTime
	)

	err := row.Scan(
		&n.ID, &n.TaskRef, &kind, &status,
		&n.Title, &n.Message, &createdAt, &dueAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	n.Kind = model.Kind(kind)
	n.Status = model.Status(status)
	n.CreatedAt = createdAt
	if dueAt.Valid {
		t := dueAt.Time
		n.DueAt = &t
	}

	return n, nil
}
