package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one spawn-to-exit span of a managed process, persisted for
// diagnostics. Uniq identifies a single run (pid plus start time), so a stop
// row always lands on the spawn row it belongs to.
type Record struct {
	ID        int64
	ProcID    string
	PID       int
	StartedAt time.Time
	StoppedAt sql.NullTime
	Running   bool
	ExitInfo  sql.NullString
	Uniq      string
	UpdatedAt time.Time
}

// Key derives the unique run key for this record.
func (r Record) Key() string { return UniqueKey(r.PID, r.StartedAt) }

// UniqueKey builds the run identity from pid and spawn time.
func UniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UTC().UnixNano())
}

// Store persists process lifecycle spans. Implementations must be safe for
// concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordStart(ctx context.Context, rec Record) error
	RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitInfo string) error
	GetByProc(ctx context.Context, procID string, limit int) ([]Record, error)
	Close() error
}
