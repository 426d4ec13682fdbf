package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Record is the single source of truth for one managed command. All mutation
// goes through methods that hold the internal lock, so state transitions for
// one id are totally ordered.
type Record struct {
	mu             sync.Mutex
	id             string
	command        string
	state          State
	pid            int
	startedAt      time.Time
	lastExit       string
	stopRequested  bool
	pendingRestart bool
	restarts       int
	cmd            *exec.Cmd
	outCloser      io.WriteCloser
	errCloser      io.WriteCloser
}

// Status is an externally consumable snapshot of a Record.
type Status struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	LastExit  string    `json:"last_exit,omitempty"`
	Restarts  int       `json:"restarts"`
}

func New(id, command string) *Record {
	return &Record{id: id, command: command, state: StateIdle}
}

func (r *Record) ID() string { return r.id }

func (r *Record) Command() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.command
}

// UpdateCommand replaces the command text; refused while a pid is attached so
// a live child always matches the command it was launched from.
func (r *Record) UpdateCommand(command string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Alive() {
		return false
	}
	r.command = command
	return true
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}

func (r *Record) Cmd() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

func (r *Record) StopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

// BeginStart moves the record into Starting and clears the stop flag. It also
// returns the command to launch so spawn uses the text captured under the lock.
func (r *Record) BeginStart() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Startable() {
		return "", fmt.Errorf("process %q cannot start from state %s", r.id, r.state)
	}
	r.state = StateStarting
	r.stopRequested = false
	return r.command, nil
}

// Started completes Starting -> Running once spawn returned a live pid.
func (r *Record) Started(cmd *exec.Cmd, stdout, stderr io.WriteCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmd = cmd
	r.pid = cmd.Process.Pid
	r.startedAt = time.Now()
	r.state = StateRunning
	r.outCloser = stdout
	r.errCloser = stderr
}

// StartFailed routes a spawn error to Crashed with the failure captured.
func (r *Record) StartFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateCrashed
	r.pid = 0
	r.cmd = nil
	r.lastExit = "spawn: " + err.Error()
}

// BeginStop sets stop_requested and moves Running -> Stopping. The flag is
// recorded before any signal is delivered; an exit racing the stop can then
// never be misread as a crash.
func (r *Record) BeginStop() (pid int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !canTransition(r.state, StateStopping) {
		return 0, fmt.Errorf("process %q is not running (state %s)", r.id, r.state)
	}
	r.stopRequested = true
	r.state = StateStopping
	return r.pid, nil
}

// ObserveExit applies a reaped termination. A notification whose pid no longer
// matches the record (or that arrives in a non-alive state) is a stale no-op
// and returns ok=false. Otherwise the destination is decided by stopRequested.
func (r *Record) ObserveExit(pid int, exitErr error) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Alive() || r.pid != pid {
		return r.state, false
	}
	if exitErr != nil {
		r.lastExit = exitErr.Error()
	} else {
		r.lastExit = "exit status 0"
	}
	r.pid = 0
	r.cmd = nil
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
	if r.stopRequested {
		r.state = StateStopped
	} else {
		r.state = StateCrashed
	}
	return r.state, true
}

// SetPendingRestart marks that a respawn should follow the next confirmed exit.
func (r *Record) SetPendingRestart() {
	r.mu.Lock()
	r.pendingRestart = true
	r.mu.Unlock()
}

// TakePendingRestart reads and clears the deferred-restart flag.
func (r *Record) TakePendingRestart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.pendingRestart
	r.pendingRestart = false
	return v
}

func (r *Record) IncRestarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts++
	return r.restarts
}

// Snapshot returns a copy of the current status. Uptime is rendered only for
// records holding a pid.
func (r *Record) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{
		ID:       r.id,
		Command:  r.command,
		State:    r.state,
		PID:      r.pid,
		LastExit: r.lastExit,
		Restarts: r.restarts,
	}
	if r.state.Alive() {
		s.StartedAt = r.startedAt
		s.Uptime = FormatUptime(time.Since(r.startedAt))
	}
	return s
}

// FormatUptime renders a duration as HH:MM:SS, prefixed with a day count past
// 24 hours.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Seconds())
	days := secs / 86400
	secs %= 86400
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if days == 1 {
		return fmt.Sprintf("1 day, %02d:%02d:%02d", h, m, s)
	}
	if days > 1 {
		return fmt.Sprintf("%d days, %02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
