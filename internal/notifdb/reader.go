// Package notifdb reads the external macOS notification store. The store is
// owned by usernoted; this package opens it read-only, never writes, and
// treats every row as potentially malformed.
package notifdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wakamenori/mac-notify/internal/model"
)

// The store schema differs across macOS builds: newer builds use the
// record/app tables, older ones the Core Data Z-prefixed tables. The reader
// probes once and caches whichever variant answers.
const (
	queryRecord = `
SELECT rec.rec_id, rec.data, app.identifier
FROM record rec
JOIN app ON rec.app_id = app.app_id
WHERE rec.rec_id > ?
ORDER BY rec.rec_id`

	queryZ = `
SELECT rec.Z_PK, rec.ZDATA, app.ZBUNDLEID
FROM ZNOTIFICATIONENTRY rec
JOIN ZNOTIFICATIONAPPENTRY app ON rec.ZAPP = app.Z_PK
WHERE rec.Z_PK > ?
ORDER BY rec.Z_PK`

	maxIDRecord = `SELECT MAX(rec_id) FROM record`
	maxIDZ      = `SELECT MAX(Z_PK) FROM ZNOTIFICATIONENTRY`
)

var ErrUnknownSchema = errors.New("could not determine notification store schema")

// PollResult is one poll over the store: decoded notifications in ascending
// raw-id order, the maximum raw id observed (including rows that failed to
// decode), and how many rows were dropped by the decoder.
type PollResult struct {
	Notifications []model.Notification
	MaxID         int64
	Dropped       int
}

type Reader struct {
	path  string
	query string
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// ReadNew returns rows strictly newer than sinceID. A row whose payload does
// not decode is dropped but still advances MaxID, so a persistently malformed
// row cannot wedge the cursor.
func (r *Reader) ReadNew(ctx context.Context, sinceID int64) (PollResult, error) {
	conn, err := r.open()
	if err != nil {
		return PollResult{}, err
	}
	defer conn.Close() //nolint:errcheck

	query, err := r.resolveQuery(ctx, conn)
	if err != nil {
		return PollResult{}, err
	}

	rows, err := conn.QueryContext(ctx, query, sinceID)
	if err != nil {
		return PollResult{}, fmt.Errorf("query notification store: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	result := PollResult{MaxID: sinceID}
	for rows.Next() {
		var (
			id       int64
			data     []byte
			bundleID string
		)
		if err := rows.Scan(&id, &data, &bundleID); err != nil {
			return PollResult{}, fmt.Errorf("scan notification row: %w", err)
		}
		if id > result.MaxID {
			result.MaxID = id
		}
		payload, ok := decodePayload(data)
		if !ok {
			result.Dropped++
			continue
		}
		result.Notifications = append(result.Notifications, model.Notification{
			ID:        id,
			BundleID:  bundleID,
			AppName:   model.AppNameFromBundle(bundleID),
			Title:     payload.Title,
			Subtitle:  payload.Subtitle,
			Body:      payload.Body,
			Timestamp: now,
		})
	}
	if err := rows.Err(); err != nil {
		return PollResult{}, fmt.Errorf("iter notification rows: %w", err)
	}
	return result, nil
}

// LatestID returns the store's current high-water mark; used to seed the
// cursor on first start so history is never backfilled.
func (r *Reader) LatestID(ctx context.Context) (int64, error) {
	conn, err := r.open()
	if err != nil {
		return 0, err
	}
	defer conn.Close() //nolint:errcheck

	query, err := r.resolveQuery(ctx, conn)
	if err != nil {
		return 0, err
	}
	maxQuery := maxIDRecord
	if query == queryZ {
		maxQuery = maxIDZ
	}
	var maxID sql.NullInt64
	if err := conn.QueryRowContext(ctx, maxQuery).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("query max record id: %w", err)
	}
	return maxID.Int64, nil
}

func (r *Reader) open() (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(1000)", r.path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open notification store %s: %w", r.path, err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

func (r *Reader) resolveQuery(ctx context.Context, conn *sql.DB) (string, error) {
	if r.query != "" {
		return r.query, nil
	}
	for _, query := range []string{queryRecord, queryZ} {
		stmt, err := conn.PrepareContext(ctx, query)
		if err != nil {
			continue
		}
		stmt.Close() //nolint:errcheck
		r.query = query
		return query, nil
	}
	return "", ErrUnknownSchema
}
