package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wakamenori/mac-notify/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is the agent's durable state: the processing cursor, the per-app
// prompt registry, the ignore list, and the alert audit log. The daemon is
// the single writer.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// GetCursor returns the persisted high-water mark. ok=false means no cursor
// has ever been written (fresh install).
func (s *Store) GetCursor(ctx context.Context) (int64, bool, error) {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT last_record_id FROM processing_cursor WHERE id = 1`).Scan(&last)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get cursor: %w", err)
	}
	return last, true, nil
}

// SetCursor persists the high-water mark. The cursor only moves forward; a
// write behind the stored value is a silent no-op.
func (s *Store) SetCursor(ctx context.Context, lastRecordID int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO processing_cursor(id, last_record_id, updated_at)
VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	last_record_id=excluded.last_record_id,
	updated_at=excluded.updated_at
WHERE excluded.last_record_id > processing_cursor.last_record_id
`, lastRecordID, ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (s *Store) SetPrompt(ctx context.Context, entry model.AppPromptEntry) error {
	bundleID := strings.TrimSpace(entry.BundleID)
	contextText := strings.TrimSpace(entry.Context)
	if bundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	if contextText == "" {
		return fmt.Errorf("context is required")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO app_prompts(bundle_id, context, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(bundle_id) DO UPDATE SET
	context=excluded.context,
	updated_at=excluded.updated_at
`, bundleID, contextText, ts(entry.UpdatedAt))
	if err != nil {
		return fmt.Errorf("set prompt: %w", err)
	}
	return nil
}

// DeletePrompt removes a prompt entry. Deleting an absent entry reports
// removed=false without error.
func (s *Store) DeletePrompt(ctx context.Context, bundleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_prompts WHERE bundle_id = ?`, strings.TrimSpace(bundleID))
	if err != nil {
		return false, fmt.Errorf("delete prompt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete prompt rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetPrompt(ctx context.Context, bundleID string) (model.AppPromptEntry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT bundle_id, context, updated_at FROM app_prompts WHERE bundle_id = ?
`, strings.TrimSpace(bundleID))
	return scanPrompt(row)
}

func (s *Store) ListPrompts(ctx context.Context) ([]model.AppPromptEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT bundle_id, context, updated_at FROM app_prompts ORDER BY bundle_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := make([]model.AppPromptEntry, 0)
	for rows.Next() {
		entry, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter prompts: %w", err)
	}
	return out, nil
}

func (s *Store) AddIgnored(ctx context.Context, bundleID string) error {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return fmt.Errorf("bundle_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ignored_apps(bundle_id, added_at)
VALUES (?, ?)
ON CONFLICT(bundle_id) DO NOTHING
`, bundleID, ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("add ignored app: %w", err)
	}
	return nil
}

func (s *Store) RemoveIgnored(ctx context.Context, bundleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ignored_apps WHERE bundle_id = ?`, strings.TrimSpace(bundleID))
	if err != nil {
		return false, fmt.Errorf("remove ignored app: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove ignored app rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListIgnored(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bundle_id FROM ignored_apps ORDER BY bundle_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list ignored apps: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var bundleID string
		if err := rows.Scan(&bundleID); err != nil {
			return nil, fmt.Errorf("scan ignored app: %w", err)
		}
		out = append(out, bundleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter ignored apps: %w", err)
	}
	return out, nil
}

func (s *Store) InsertAlert(ctx context.Context, alert model.AlertRecord) error {
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if alert.DispatchedAt.IsZero() {
		alert.DispatchedAt = time.Now().UTC()
	}
	var notificationID any
	if alert.NotificationID != nil {
		notificationID = *alert.NotificationID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts(alert_id, kind, notification_id, bundle_id, title, message, outcome, dispatched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, alert.AlertID, string(alert.Kind), notificationID, alert.BundleID, alert.Title, alert.Message, alert.Outcome, ts(alert.DispatchedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, limit int) ([]model.AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT alert_id, kind, notification_id, bundle_id, title, message, outcome, dispatched_at
FROM alerts
ORDER BY dispatched_at DESC, alert_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]model.AlertRecord, 0, limit)
	for rows.Next() {
		var (
			alert          model.AlertRecord
			kind           string
			notificationID sql.NullInt64
			dispatchedAt   string
		)
		if err := rows.Scan(&alert.AlertID, &kind, &notificationID, &alert.BundleID, &alert.Title, &alert.Message, &alert.Outcome, &dispatchedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alert.Kind = model.AlertKind(kind)
		if notificationID.Valid {
			v := notificationID.Int64
			alert.NotificationID = &v
		}
		parsed, err := parseTS(dispatchedAt)
		if err != nil {
			return nil, fmt.Errorf("parse alert dispatched_at: %w", err)
		}
		alert.DispatchedAt = parsed
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter alerts: %w", err)
	}
	return out, nil
}

// PurgeAlerts drops audit rows older than the cutoff.
func (s *Store) PurgeAlerts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE dispatched_at < ?`, ts(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge alerts rows: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (model.AppPromptEntry, error) {
	var (
		entry     model.AppPromptEntry
		updatedAt string
	)
	if err := row.Scan(&entry.BundleID, &entry.Context, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.AppPromptEntry{}, ErrNotFound
		}
		return model.AppPromptEntry{}, fmt.Errorf("scan prompt: %w", err)
	}
	parsed, err := parseTS(updatedAt)
	if err != nil {
		return model.AppPromptEntry{}, fmt.Errorf("parse prompt updated_at: %w", err)
	}
	entry.UpdatedAt = parsed
	return entry, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
