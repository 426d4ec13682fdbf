package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/warden-project/warden/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// The DSN is a filesystem path; use ":memory:" for in-memory.
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
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS process_runs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			proc_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			running BOOLEAN NOT NULL,
			exit_info TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_process_runs_proc ON process_runs(proc_id);`,
		`CREATE INDEX IF NOT EXISTS idx_process_runs_running ON process_runs(running);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordStart(ctx context.Context, rec store.Record) error {
	uniq := rec.Key()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_runs(proc_id, pid, started_at, stopped_at, running, exit_info, uniq, updated_at)
		VALUES(?, ?, ?, NULL, 1, NULL, ?, ?)
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

func (s *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitInfo string) error {
	var info sql.NullString
	if exitInfo != "" {
		info = sql.NullString{String: exitInfo, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE process_runs
		SET running=0, stopped_at=?, exit_info=?, updated_at=?
		WHERE uniq=?;`,
		stoppedAt.UTC(), info, time.Now().UTC(), uniq)
	return err
}

func (s *DB) GetByProc(ctx context.Context, procID string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proc_id, pid, started_at, stopped_at, running, exit_info, uniq, updated_at
		FROM process_runs
		WHERE proc_id=?
		ORDER BY started_at DESC
		LIMIT ?;`, procID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
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
