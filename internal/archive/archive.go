// Package archive persists emitted notifications and reported scalars
// to SQLite so history survives agent restarts. Writes are best-effort:
// the notification engine logs archive errors and moves on.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/minderhq/minder/internal/notify"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Store is a SQLite-backed archive. It implements notify.Archiver.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path. WAL mode, a 5s
// busy timeout, and a single connection (SQLite serialises writes).
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("archive: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.TODO()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ArchiveNotification implements notify.Archiver.
func (s *Store) ArchiveNotification(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("archive: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (job_id, job_seq, job_name, kind, title, payload, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.Job.ID.String(), n.Job.Seq, n.Job.Name,
		string(n.Kind), n.Title, string(payload),
		n.Time.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive: insert notification: %w", err)
	}
	return nil
}

// ArchiveScalar implements notify.Archiver.
func (s *Store) ArchiveScalar(ctx context.Context, jobID uuid.UUID, name string, value float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scalars (job_id, name, value, reported_at)
		VALUES (?, ?, ?, ?)`,
		jobID.String(), name, value, at.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("archive: insert scalar: %w", err)
	}
	return nil
}

// Notifications returns the archived notifications for a job in
// emission order.
func (s *Store) Notifications(ctx context.Context, jobID uuid.UUID) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, job_seq, job_name, kind, title, payload, emitted_at
		FROM notifications
		WHERE job_id = ?
		ORDER BY rowid`,
		jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []notify.Notification
	for rows.Next() {
		var (
			n       notify.Notification
			rawID   string
			rawKind string
			rawTime string
			payload string
		)
		if err := rows.Scan(&rawID, &n.Job.Seq, &n.Job.Name, &rawKind, &n.Title, &payload, &rawTime); err != nil {
			return nil, fmt.Errorf("archive: scan notification: %w", err)
		}
		if n.Job.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("archive: parse job id: %w", err)
		}
		n.Kind = notify.Kind(rawKind)
		if n.Time, err = time.Parse(time.RFC3339Nano, rawTime); err != nil {
			return nil, fmt.Errorf("archive: parse emitted_at: %w", err)
		}
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
				return nil, fmt.Errorf("archive: parse payload: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Prune deletes archived rows older than the cutoff and returns how
// many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.Format(time.RFC3339Nano)

	var total int64
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE emitted_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: prune notifications: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, "DELETE FROM scalars WHERE reported_at < ?", cutoff)
	if err != nil {
		return total, fmt.Errorf("archive: prune scalars: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}
