package supervisor

import (
	"context"
	"os/exec"
	"time"

	"github.com/warden-project/warden/internal/history"
	"github.com/warden-project/warden/internal/metrics"
	"github.com/warden-project/warden/internal/process"
)

// exitEvent is one reaped child termination. pid identifies the run so a
// late or duplicate notification can be recognized as stale.
type exitEvent struct {
	id  string
	pid int
	err error
}

// wait blocks in cmd.Wait for one spawned child and reports the result to the
// event loop. One goroutine per live child; cmd.Wait is the only long-lived
// blocking call in the supervisor.
func (s *Supervisor) wait(id string, pid int, cmd *exec.Cmd) {
	err := cmd.Wait()
	select {
	case s.events <- exitEvent{id: id, pid: pid, err: err}:
	case <-s.ctx.Done():
	}
}

// run is the exit event loop: the single consumer of reaper events and the
// only place the restart decision is made.
func (s *Supervisor) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handleExit(ev)
		}
	}
}

func (s *Supervisor) handleExit(ev exitEvent) {
	rec := s.get(ev.id)
	if rec == nil {
		s.log.Debug("exit event for unknown id", "id", ev.id, "pid", ev.pid)
		return
	}
	newState, ok := rec.ObserveExit(ev.pid, ev.err)
	if !ok {
		s.log.Debug("stale exit event", "id", ev.id, "pid", ev.pid, "state", newState)
		return
	}

	snap := rec.Snapshot()
	s.setStateMetric(ev.id, newState)
	s.recordStop(ev.id, ev.pid, snap.LastExit)

	switch newState {
	case process.StateStopped:
		metrics.IncStop(ev.id)
		s.sendEvent(history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), ProcID: ev.id, PID: ev.pid, ExitInfo: snap.LastExit})
		s.log.Info("process stopped", "id", ev.id, "pid", ev.pid, "exit", snap.LastExit)
		if rec.TakePendingRestart() {
			// deferred half of a restart: the old pid is confirmed gone
			if err := s.spawn(rec); err != nil {
				s.log.Error("restart respawn failed", "id", ev.id, "error", err)
			} else {
				rec.IncRestarts()
				metrics.IncRestart(ev.id)
			}
		}
	case process.StateCrashed:
		metrics.IncCrash(ev.id)
		s.sendEvent(history.Event{Type: history.EventCrash, OccurredAt: time.Now().UTC(), ProcID: ev.id, PID: ev.pid, ExitInfo: snap.LastExit})
		s.log.Warn("process exited unexpectedly", "id", ev.id, "pid", ev.pid, "exit", snap.LastExit)
		s.scheduleRespawn(ev.id)
	}
}

// scheduleRespawn applies the restart policy: any termination without a stop
// request is respawned, regardless of exit code. The respawn always runs off
// the caller's goroutine; a command that fails to spawn must not re-enter
// spawn from inside its own failure path, or an unlaunchable command would
// pin the caller (and, via handleExit, the exit event loop) forever.
func (s *Supervisor) scheduleRespawn(id string) {
	delay := s.restartDelay
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() { s.respawn(id) })
}

func (s *Supervisor) respawn(id string) {
	if s.ctx != nil && s.ctx.Err() != nil {
		return
	}
	rec := s.get(id)
	if rec == nil {
		return
	}
	// Only a record still sitting in Crashed is eligible; an operator may
	// have started or reconfigured it during the delay.
	if rec.State() != process.StateCrashed {
		return
	}
	if err := s.spawn(rec); err != nil {
		s.log.Error("auto restart failed", "id", id, "error", err)
		return
	}
	rec.IncRestarts()
	metrics.IncRestart(id)
	s.log.Info("process restarted", "id", id)
}

func (s *Supervisor) recordStop(id string, pid int, exitInfo string) {
	s.mu.Lock()
	uniq := s.runKeys[id]
	delete(s.runKeys, id)
	s.mu.Unlock()
	if s.st == nil || uniq == "" {
		return
	}
	if err := s.st.RecordStop(context.Background(), uniq, time.Now().UTC(), exitInfo); err != nil {
		s.log.Warn("store stop record failed", "id", id, "pid", pid, "error", err)
	}
}
