package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warden-project/warden/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("empty postgres dsn")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_runs(
			id BIGSERIAL PRIMARY KEY,
			proc_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			stopped_at TIMESTAMPTZ NULL,
			running BOOLEAN NOT NULL,
			exit_info TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_runs_proc ON process_runs(proc_id);`,
		`CREATE INDEX IF NOT EXISTS idx_process_runs_running ON process_runs(running);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordStart(ctx context.Context, rec store.Record) error {
	uniq := rec.Key()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO process_runs(proc_id, pid, started_at, stopped_at, running, exit_info, uniq, updated_at)
		VALUES($1, $2, $3, NULL, TRUE, NULL, $4, $5)
		ON CONFLICT(uniq) DO UPDATE SET
			proc_id=excluded.proc_id,
			pid=excluded.pid,
			started_at=excluded.started_at,
			running=excluded.running,
			stopped_at=NULL,
			exit_info=NULL,
			updated_at=excluded.updated_at;`,
		rec.ProcID, rec.PID, rec.StartedAt.UTC(), uniq, time.Now().UTC())
	return err
}

func (p *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitInfo string) error {
	var info sql.NullString
	if exitInfo != "" {
		info = sql.NullString{String: exitInfo, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE process_runs
		SET running=FALSE, stopped_at=$1, exit_info=$2, updated_at=$3
		WHERE uniq=$4;`,
		stoppedAt.UTC(), info, time.Now().UTC(), uniq)
	return err
}

func (p *DB) GetByProc(ctx context.Context, procID string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, proc_id, pid, started_at, stopped_at, running, exit_info, uniq, updated_at
		FROM process_runs
		WHERE proc_id=$1
		ORDER BY started_at DESC
		LIMIT $2;`, procID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.ProcID, &r.PID, &r.StartedAt, &r.StoppedAt, &r.Running, &r.ExitInfo, &r.Uniq, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
