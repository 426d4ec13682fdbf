package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeDaemon answers the control protocol on a unix socket with a fixed
// response per command.
func fakeDaemon(t *testing.T, handler func(Request) Response) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "warden")
	if err != nil {
		t.Fatalf("tempdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "ctl.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req Request
				if err := json.NewDecoder(conn).Decode(&req); err != nil {
					return
				}
				body, _ := json.Marshal(handler(req))
				_, _ = conn.Write(body)
			}()
		}
	}()
	return sock
}

func newClient(sock string) *Client {
	return New(Config{
		SocketPath: sock,
		Timeout:    2 * time.Second,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestStatusDecodesTable(t *testing.T) {
	sock := fakeDaemon(t, func(req Request) Response {
		if req.Command != "status" {
			t.Errorf("unexpected command %q", req.Command)
		}
		return Response{Status: "ok", Payload: []ProcessStatus{
			{ID: "alpha", Command: "sleep 100", State: "running", PID: 4242, Uptime: "00:01:02"},
		}}
	})
	got, err := newClient(sock).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(got) != 1 || got[0].ID != "alpha" || got[0].PID != 4242 {
		t.Fatalf("unexpected table: %+v", got)
	}
}

func TestMutationsCarryPayload(t *testing.T) {
	var seen []Request
	sock := fakeDaemon(t, func(req Request) Response {
		seen = append(seen, req)
		return Response{Status: "ok", Payload: "done"}
	})
	c := newClient(sock)
	ctx := context.Background()
	if _, err := c.Start(ctx, "web"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Stop(ctx, "web"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := c.Restart(ctx, "web"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if _, err := c.Apply(ctx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(seen))
	}
	for i, want := range []string{"start", "stop", "restart"} {
		if seen[i].Command != want || seen[i].Payload == nil || *seen[i].Payload != "web" {
			t.Fatalf("request %d wrong: %+v", i, seen[i])
		}
	}
	if seen[3].Command != "apply" || seen[3].Payload != nil {
		t.Fatalf("apply request wrong: %+v", seen[3])
	}
}

func TestDaemonErrorSurfacesMessage(t *testing.T) {
	sock := fakeDaemon(t, func(Request) Response {
		return Response{Status: "error", Message: `unknown process id: "ghost"`}
	})
	_, err := newClient(sock).Start(context.Background(), "ghost")
	if err == nil || err.Error() != `unknown process id: "ghost"` {
		t.Fatalf("expected daemon message, got %v", err)
	}
}

func TestSocketMissing(t *testing.T) {
	c := newClient(filepath.Join(t.TempDir(), "absent.sock"))
	_, err := c.Status(context.Background())
	if !errors.Is(err, ErrSocketMissing) {
		t.Fatalf("expected ErrSocketMissing, got %v", err)
	}
}

func TestConnectionRefusedOnStaleSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "stale.sock")
	// bind then close, leaving a socket file nobody accepts on
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: sock, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ln.SetUnlinkOnClose(false)
	_ = ln.Close()
	_, err = newClient(sock).Status(context.Background())
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
}

func TestNoResponseWhenDaemonClosesSilently(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "mute.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	_, err = newClient(sock).Status(context.Background())
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}

func TestIsReachable(t *testing.T) {
	sock := fakeDaemon(t, func(Request) Response {
		return Response{Status: "ok", Payload: []ProcessStatus{}}
	})
	if !newClient(sock).IsReachable(context.Background()) {
		t.Fatalf("daemon must be reachable")
	}
	if newClient(filepath.Join(t.TempDir(), "nope.sock")).IsReachable(context.Background()) {
		t.Fatalf("missing socket must be unreachable")
	}
}
