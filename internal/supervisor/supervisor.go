package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/env"
	"github.com/warden-project/warden/internal/history"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/metrics"
	"github.com/warden-project/warden/internal/process"
	"github.com/warden-project/warden/internal/store"
)

// ErrUnknownID is returned when a control request names an id that is not in
// the record table.
var ErrUnknownID = errors.New("unknown process id")

// SpawnError wraps an OS-level failure to create a process. The record has
// already been routed to Crashed when this is returned.
type SpawnError struct {
	ID  string
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %q: %v", e.ID, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// Options configures a Supervisor.
type Options struct {
	Logger       *slog.Logger
	LogConfig    logger.Config
	Store        store.Store
	Sinks        []history.Sink
	// RestartDelay is the pause before a crashed process is respawned. The
	// zero value falls back to config.DefaultRestartDelay; a negative value
	// respawns immediately.
	RestartDelay time.Duration
	// KillTimeout > 0 sends SIGKILL to a Stopping process that has not exited
	// within the window. Zero disables escalation.
	KillTimeout time.Duration
	// Env entries ("K=V") override the daemon environment for every child.
	Env []string
}

// Supervisor owns spawn, signal delivery, exit reaping and the restart
// decision. The record table is the only shared mutable state; the table
// mutex guards membership while each Record serializes its own transitions.
type Supervisor struct {
	mu      sync.RWMutex
	procs   map[string]*process.Record
	runKeys map[string]string // id -> store key of the current run

	events chan exitEvent
	log    *slog.Logger
	logCfg logger.Config
	st     store.Store
	sinks  []history.Sink
	envOv  *env.Overlay

	restartDelay time.Duration
	killTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Supervisor {
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	restartDelay := opts.RestartDelay
	if restartDelay == 0 {
		restartDelay = config.DefaultRestartDelay
	}
	return &Supervisor{
		procs:        make(map[string]*process.Record),
		runKeys:      make(map[string]string),
		events:       make(chan exitEvent, 64),
		log:          lg,
		logCfg:       opts.LogConfig,
		st:           opts.Store,
		sinks:        opts.Sinks,
		envOv:        env.New(opts.Env),
		restartDelay: restartDelay,
		killTimeout:  opts.KillTimeout,
	}
}

// Start launches the exit event loop. It must be called once before any
// process is spawned.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run()
}

// get returns the record for id, or nil.
func (s *Supervisor) get(id string) *process.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.procs[id]
}

// ensure returns the record for the program, creating an Idle one if absent.
func (s *Supervisor) ensure(prog config.Program) (*process.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.procs[prog.ID]; ok {
		return r, false
	}
	r := process.New(prog.ID, prog.Command)
	s.procs[prog.ID] = r
	return r, true
}

// Spawn launches the command for id. The record must be Idle, Stopped or
// Crashed. A failure to create the process moves the record to Crashed with
// the error captured; it is not silently dropped.
func (s *Supervisor) Spawn(id string) error {
	rec := s.get(id)
	if rec == nil {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	return s.spawn(rec)
}

func (s *Supervisor) spawn(rec *process.Record) error {
	id := rec.ID()
	command, err := rec.BeginStart()
	if err != nil {
		return err
	}

	cmd := process.BuildCommand(command)
	process.ConfigureSysProcAttr(cmd)
	if !s.envOv.Empty() {
		cmd.Env = s.envOv.Environ()
	}
	outW, errW, lerr := s.logCfg.Writers(id)
	if lerr != nil {
		s.log.Warn("process log setup failed, output discarded", "id", id, "error", lerr)
	}
	if outW != nil {
		cmd.Stdout = outW
	}
	if errW != nil {
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		rec.StartFailed(err)
		s.setStateMetric(id, process.StateCrashed)
		metrics.IncCrash(id)
		s.log.Error("spawn failed", "id", id, "command", command, "error", err)
		s.scheduleRespawn(id)
		return &SpawnError{ID: id, Err: err}
	}

	rec.Started(cmd, outW, errW)
	pid := cmd.Process.Pid
	snap := rec.Snapshot()

	s.mu.Lock()
	s.runKeys[id] = store.UniqueKey(pid, snap.StartedAt)
	s.mu.Unlock()

	s.setStateMetric(id, process.StateRunning)
	metrics.IncStart(id)
	s.recordStart(id, pid, snap.StartedAt)
	s.log.Info("process started", "id", id, "pid", pid, "command", command)

	go s.wait(id, pid, cmd)
	return nil
}

// RequestStop sets stop_requested, delivers one graceful termination signal
// to the process group and returns without waiting for exit confirmation.
func (s *Supervisor) RequestStop(id string) error {
	rec := s.get(id)
	if rec == nil {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	pid, err := rec.BeginStop()
	if err != nil {
		return err
	}
	s.setStateMetric(id, process.StateStopping)
	if err := process.Terminate(pid); err != nil {
		// The child may have exited between the transition and the signal;
		// the reaper event will finish the stop either way.
		s.log.Debug("terminate signal failed", "id", id, "pid", pid, "error", err)
	}
	s.log.Info("stop requested", "id", id, "pid", pid)
	if s.killTimeout > 0 {
		time.AfterFunc(s.killTimeout, func() {
			// the exit may already be reaped, or sitting unprocessed in the
			// event queue; only a pid that is provably still alive gets killed
			if rec.State() == process.StateStopping && rec.PID() == pid && process.Exists(pid) {
				s.log.Warn("process ignored termination signal, killing", "id", id, "pid", pid)
				_ = process.Kill(pid)
			}
		})
	}
	return nil
}

// RequestRestart composes a stop with a deferred spawn: the new process is
// launched only once the reaper confirms the old pid has fully exited, so the
// two runs can never overlap on ports or files.
func (s *Supervisor) RequestRestart(id string) error {
	rec := s.get(id)
	if rec == nil {
		return fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	switch rec.State() {
	case process.StateRunning:
		rec.SetPendingRestart()
		return s.RequestStop(id)
	case process.StateStopping:
		rec.SetPendingRestart()
		return nil
	case process.StateStarting:
		return fmt.Errorf("process %q is starting, restart not possible", id)
	default:
		return s.spawn(rec)
	}
}

// Apply reconciles the table against a parsed program list: unknown ids are
// created and spawned, known ids that are not running are started, running
// ids are left untouched. Reconciliation is additive; records are never
// removed here. Per-id spawn failures are logged and land in the record's
// last_exit, they do not abort the rest of the apply.
func (s *Supervisor) Apply(progs []config.Program) (started int) {
	for _, p := range progs {
		rec, created := s.ensure(p)
		if !created {
			// refresh command text for ids whose directive changed; refused
			// while the old command is still attached to a pid
			if rec.Command() != p.Command {
				if rec.UpdateCommand(p.Command) {
					s.log.Info("command updated", "id", p.ID)
				} else {
					s.log.Warn("command changed in config but process is alive, keeping old command until restart", "id", p.ID)
				}
			}
		}
		if !rec.State().Startable() {
			continue
		}
		if err := s.spawn(rec); err != nil {
			s.log.Error("apply: start failed", "id", p.ID, "error", err)
			continue
		}
		started++
	}
	return started
}

// SnapshotOne returns the status of a single record.
func (s *Supervisor) SnapshotOne(id string) (process.Status, error) {
	rec := s.get(id)
	if rec == nil {
		return process.Status{}, fmt.Errorf("%w: %q", ErrUnknownID, id)
	}
	return rec.Snapshot(), nil
}

// Snapshot returns the status of every record, sorted by id.
func (s *Supervisor) Snapshot() []process.Status {
	s.mu.RLock()
	recs := make([]*process.Record, 0, len(s.procs))
	for _, r := range s.procs {
		recs = append(recs, r)
	}
	s.mu.RUnlock()
	out := make([]process.Status, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopAll requests a stop for every running process and waits up to wait for
// the records to leave their alive states. Used at daemon shutdown.
func (s *Supervisor) StopAll(wait time.Duration) {
	for _, st := range s.Snapshot() {
		if st.State == process.StateRunning {
			if err := s.RequestStop(st.ID); err != nil {
				s.log.Debug("shutdown stop failed", "id", st.ID, "error", err)
			}
		}
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		alive := 0
		for _, st := range s.Snapshot() {
			if st.State.Alive() {
				alive++
			}
		}
		if alive == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Shutdown stops the event loop. StopAll should be called first so children
// are signaled while the reaper is still draining events.
func (s *Supervisor) Shutdown() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Supervisor) setStateMetric(id string, cur process.State) {
	for _, st := range []process.State{
		process.StateIdle, process.StateStarting, process.StateRunning,
		process.StateStopping, process.StateStopped, process.StateCrashed,
	} {
		metrics.SetCurrentState(id, string(st), st == cur)
	}
}

func (s *Supervisor) recordStart(id string, pid int, startedAt time.Time) {
	if s.st != nil {
		rec := store.Record{ProcID: id, PID: pid, StartedAt: startedAt}
		if err := s.st.RecordStart(context.Background(), rec); err != nil {
			s.log.Warn("store start record failed", "id", id, "error", err)
		}
	}
	s.sendEvent(history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), ProcID: id, PID: pid})
}

func (s *Supervisor) sendEvent(e history.Event) {
	for _, sink := range s.sinks {
		if err := sink.Send(context.Background(), e); err != nil {
			s.log.Warn("history sink send failed", "type", string(e.Type), "id", e.ProcID, "error", err)
		}
	}
}
