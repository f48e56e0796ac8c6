package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nicwh1988/respawn/internal/store"
)

// DB implements store.Store on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worker_launch(
			id BIGSERIAL PRIMARY KEY,
			worker TEXT NOT NULL,
			pid INTEGER NOT NULL,
			signaled TEXT NOT NULL DEFAULT '',
			launched_at TIMESTAMPTZ NOT NULL,
			exited_at TIMESTAMPTZ NULL,
			running BOOLEAN NOT NULL,
			exit_err TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_launch_worker ON worker_launch(worker);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_launch_running ON worker_launch(running);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordLaunch(ctx context.Context, rec store.Record) error {
	if rec.Uniq == "" {
		rec.Uniq = rec.Key()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO worker_launch(worker, pid, signaled, launched_at, exited_at, running, exit_err, uniq, updated_at)
		VALUES($1, $2, $3, $4, NULL, TRUE, NULL, $5, $6)
		ON CONFLICT(uniq) DO UPDATE SET
			worker=EXCLUDED.worker,
			pid=EXCLUDED.pid,
			signaled=EXCLUDED.signaled,
			launched_at=EXCLUDED.launched_at,
			exited_at=NULL,
			running=TRUE,
			exit_err=NULL,
			updated_at=EXCLUDED.updated_at;`,
		rec.Worker, rec.PID, store.EncodePIDs(rec.Signaled), rec.LaunchedAt.UTC(), rec.Uniq, time.Now().UTC())
	return err
}

func (p *DB) RecordExit(ctx context.Context, uniq string, exitedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE worker_launch
		SET running=FALSE, exited_at=$1, exit_err=$2, updated_at=$3
		WHERE uniq=$4;`,
		exitedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

func (p *DB) ListByWorker(ctx context.Context, worker string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, worker, pid, signaled, launched_at, exited_at, running, exit_err, uniq, updated_at
		FROM worker_launch
		WHERE worker=$1
		ORDER BY launched_at DESC
		LIMIT $2;`, worker, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) ListRunning(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, worker, pid, signaled, launched_at, exited_at, running, exit_err, uniq, updated_at
		FROM worker_launch
		WHERE running=TRUE
		ORDER BY updated_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM worker_launch WHERE running=FALSE AND updated_at < $1;`, olderThan.UTC())
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
