package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/warden-project/warden/internal/process"
	"github.com/warden-project/warden/internal/supervisor"
)

type testDaemon struct {
	sup      *supervisor.Supervisor
	disp     *Dispatcher
	socket   string
	programs string
}

func newTestDaemon(t *testing.T) *testDaemon {
	t.Helper()
	dir, err := os.MkdirTemp("", "warden")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sup := supervisor.New(supervisor.Options{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartDelay: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)

	d := &testDaemon{
		sup:      sup,
		socket:   filepath.Join(dir, "ctl.sock"),
		programs: filepath.Join(dir, "warden.conf"),
	}
	d.disp = NewDispatcher(sup, d.programs, d.socket, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := d.disp.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go d.disp.Serve()
	t.Cleanup(func() {
		_ = d.disp.Close()
		sup.StopAll(2 * time.Second)
		cancel()
		sup.Shutdown()
	})
	return d
}

func (d *testDaemon) writePrograms(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(d.programs, []byte(content), 0o644); err != nil {
		t.Fatalf("write programs: %v", err)
	}
}

// roundTrip dials the control socket, sends one raw request body and decodes
// the single response.
func (d *testDaemon) roundTrip(t *testing.T, raw string) Response {
	t.Helper()
	conn, err := net.Dial("unix", d.socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func (d *testDaemon) send(t *testing.T, command string, payload *string) Response {
	t.Helper()
	body, err := json.Marshal(Request{Command: command, Payload: payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return d.roundTrip(t, string(body))
}

func strp(s string) *string { return &s }

func TestStatusOnEmptyTable(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.send(t, CmdStatus, nil)
	if resp.Status != StatusOK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	list, ok := resp.Payload.([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("expected empty list payload, got %#v", resp.Payload)
	}
}

func TestStartUnknownIDIsError(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.send(t, CmdStart, strp("ghost"))
	if resp.Status != StatusError || resp.Message == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
	// the failed request must not create a record
	status := d.send(t, CmdStatus, nil)
	if list, _ := status.Payload.([]any); len(list) != 0 {
		t.Fatalf("table must stay empty after failed start: %#v", status.Payload)
	}
}

func TestMalformedJSONAnswersOnConnection(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.roundTrip(t, "{not json")
	if resp.Status != StatusError || resp.Message == "" {
		t.Fatalf("expected protocol error, got %+v", resp)
	}
	// daemon still serves afterwards
	if resp := d.send(t, CmdStatus, nil); resp.Status != StatusOK {
		t.Fatalf("daemon must survive a malformed request: %+v", resp)
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	d := newTestDaemon(t)
	resp := d.send(t, "reboot", nil)
	if resp.Status != StatusError {
		t.Fatalf("expected error, got %+v", resp)
	}
}

func TestPayloadRules(t *testing.T) {
	d := newTestDaemon(t)
	if resp := d.send(t, CmdStop, nil); resp.Status != StatusError {
		t.Fatalf("stop without payload must fail: %+v", resp)
	}
	if resp := d.send(t, CmdStatus, strp("alpha")); resp.Status != StatusError {
		t.Fatalf("status with payload must fail: %+v", resp)
	}
}

func TestApplyStartsConfiguredProgram(t *testing.T) {
	d := newTestDaemon(t)
	d.writePrograms(t, "# fleet\nid=alpha sleep 100\n")

	resp := d.send(t, CmdApply, nil)
	if resp.Status != StatusOK {
		t.Fatalf("apply: %+v", resp)
	}

	st, err := d.sup.SnapshotOne("alpha")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != process.StateRunning || st.PID == 0 {
		t.Fatalf("expected alpha running, got %+v", st)
	}

	// status now reports the record over the socket
	status := d.send(t, CmdStatus, nil)
	list, _ := status.Payload.([]any)
	if len(list) != 1 {
		t.Fatalf("expected one record, got %#v", status.Payload)
	}
	entry, _ := list[0].(map[string]any)
	if entry["id"] != "alpha" || entry["state"] != string(process.StateRunning) {
		t.Fatalf("unexpected status entry: %#v", entry)
	}
}

func TestApplyRefusesBadFileWithoutPartialEffect(t *testing.T) {
	d := newTestDaemon(t)
	d.writePrograms(t, "id=alpha sleep 100\nid=alpha sleep 200\n")

	resp := d.send(t, CmdApply, nil)
	if resp.Status != StatusError {
		t.Fatalf("duplicate ids must fail apply: %+v", resp)
	}
	if got := d.sup.Snapshot(); len(got) != 0 {
		t.Fatalf("failed apply must not create records: %+v", got)
	}
}

func TestStopOverSocket(t *testing.T) {
	d := newTestDaemon(t)
	d.writePrograms(t, "id=web sleep 100\n")
	if resp := d.send(t, CmdApply, nil); resp.Status != StatusOK {
		t.Fatalf("apply: %+v", resp)
	}

	if resp := d.send(t, CmdStop, strp("web")); resp.Status != StatusOK {
		t.Fatalf("stop: %+v", resp)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, _ := d.sup.SnapshotOne("web")
		if st.State == process.StateStopped {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("web did not stop")
}

func TestRestartOverSocket(t *testing.T) {
	d := newTestDaemon(t)
	d.writePrograms(t, "id=svc sleep 100\n")
	if resp := d.send(t, CmdApply, nil); resp.Status != StatusOK {
		t.Fatalf("apply: %+v", resp)
	}
	st, _ := d.sup.SnapshotOne("svc")
	oldPID := st.PID

	if resp := d.send(t, CmdRestart, strp("svc")); resp.Status != StatusOK {
		t.Fatalf("restart: %+v", resp)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, _ := d.sup.SnapshotOne("svc")
		if st.State == process.StateRunning && st.PID != 0 && st.PID != oldPID {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("svc did not come back with a new pid")
}

func TestCloseRemovesSocketFile(t *testing.T) {
	dir, err := os.MkdirTemp("", "warden")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sup := supervisor.New(supervisor.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	t.Cleanup(func() { cancel(); sup.Shutdown() })

	sock := filepath.Join(dir, "ctl.sock")
	disp := NewDispatcher(sup, filepath.Join(dir, "warden.conf"), sock, nil)
	if err := disp.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go disp.Serve()
	if _, err := os.Stat(sock); err != nil {
		t.Fatalf("socket file must exist while serving: %v", err)
	}
	if err := disp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket file must be removed on close, stat err: %v", err)
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "warden")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "ctl.sock")
	// leftover from a crashed daemon
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatalf("plant stale socket: %v", err)
	}

	sup := supervisor.New(supervisor.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)
	t.Cleanup(func() { cancel(); sup.Shutdown() })

	disp := NewDispatcher(sup, filepath.Join(dir, "warden.conf"), sock, nil)
	if err := disp.Listen(); err != nil {
		t.Fatalf("listen over stale socket: %v", err)
	}
	t.Cleanup(func() { _ = disp.Close() })
}
