package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nicwh1988/respawn/internal/store"
)

// DB implements store.Store on SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path; ":memory:" keeps everything in memory.
type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout smooths over short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worker_launch(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker TEXT NOT NULL,
			pid INTEGER NOT NULL,
			signaled TEXT NOT NULL DEFAULT '',
			launched_at TIMESTAMP NOT NULL,
			exited_at TIMESTAMP NULL,
			running BOOLEAN NOT NULL,
			exit_err TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_launch_worker ON worker_launch(worker);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_launch_running ON worker_launch(running);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordLaunch(ctx context.Context, rec store.Record) error {
	if rec.Uniq == "" {
		rec.Uniq = rec.Key()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_launch(worker, pid, signaled, launched_at, exited_at, running, exit_err, uniq, updated_at)
		VALUES(?, ?, ?, ?, NULL, 1, NULL, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			worker=excluded.worker,
			pid=excluded.pid,
			signaled=excluded.signaled,
			launched_at=excluded.launched_at,
			exited_at=NULL,
			running=1,
			exit_err=NULL,
			updated_at=excluded.updated_at;`,
		rec.Worker, rec.PID, store.EncodePIDs(rec.Signaled), rec.LaunchedAt.UTC(), rec.Uniq, time.Now().UTC())
	return err
}

func (s *DB) RecordExit(ctx context.Context, uniq string, exitedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_launch
		SET running=0, exited_at=?, exit_err=?, updated_at=?
		WHERE uniq=?;`,
		exitedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

func (s *DB) ListByWorker(ctx context.Context, worker string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker, pid, signaled, launched_at, exited_at, running, exit_err, uniq, updated_at
		FROM worker_launch
		WHERE worker=?
		ORDER BY launched_at DESC
		LIMIT ?;`, worker, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) ListRunning(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, worker, pid, signaled, launched_at, exited_at, running, exit_err, uniq, updated_at
		FROM worker_launch
		WHERE running=1
		ORDER BY updated_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_launch WHERE running=0 AND updated_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		var signaled string
		if err := rows.Scan(&r.ID, &r.Worker, &r.PID, &signaled, &r.LaunchedAt, &r.ExitedAt, &r.Running, &r.ExitErr, &r.Uniq, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Signaled = store.DecodePIDs(signaled)
		out = append(out, r)
	}
	return out, rows.Err()
}
