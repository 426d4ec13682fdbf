package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"
)

// Transport error classes. Callers can distinguish "daemon not running" from
// "daemon unhealthy" without parsing error strings.
var (
	// ErrSocketMissing means the socket file does not exist; the daemon has
	// most likely never started or already cleaned up.
	ErrSocketMissing = errors.New("control socket not found")
	// ErrConnectionRefused means the socket file exists but nothing accepts
	// on it; usually a stale file from a crashed daemon.
	ErrConnectionRefused = errors.New("daemon not accepting connections")
	// ErrNoResponse means the connection was established but the daemon did
	// not answer with a valid response.
	ErrNoResponse = errors.New("no response from daemon")
)

// Client speaks the daemon's control protocol over its unix socket: one
// connection per request, one JSON request out, one JSON response in.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger
}

// Config holds client configuration.
type Config struct {
	SocketPath string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		SocketPath: "/run/warden.sock",
		Timeout:    10 * time.Second,
	}
}

// New creates a control client. The socket is dialed per call, so a client
// can be created before the daemon is up.
func New(config Config) *Client {
	if config.SocketPath == "" {
		config.SocketPath = DefaultConfig().SocketPath
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		socketPath: config.SocketPath,
		timeout:    config.Timeout,
		logger:     config.Logger,
	}
}

// IsReachable reports whether the daemon answers on the control socket.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	return err == nil
}

// Status returns the full process table.
func (c *Client) Status(ctx context.Context) ([]ProcessStatus, error) {
	resp, err := c.roundTrip(ctx, Request{Command: "status"})
	if err != nil {
		return nil, err
	}
	// payload came through as generic JSON; re-marshal into the typed table
	raw, err := json.Marshal(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode status payload: %w", err)
	}
	var table []ProcessStatus
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode status payload: %w", err)
	}
	return table, nil
}

// Start asks the daemon to start the process with the given id.
func (c *Client) Start(ctx context.Context, id string) (string, error) {
	return c.simple(ctx, "start", id)
}

// Stop asks the daemon to stop the process with the given id.
func (c *Client) Stop(ctx context.Context, id string) (string, error) {
	return c.simple(ctx, "stop", id)
}

// Restart asks the daemon to restart the process with the given id.
func (c *Client) Restart(ctx context.Context, id string) (string, error) {
	return c.simple(ctx, "restart", id)
}

// Apply asks the daemon to re-read its program list and start anything new.
func (c *Client) Apply(ctx context.Context) (string, error) {
	resp, err := c.roundTrip(ctx, Request{Command: "apply"})
	if err != nil {
		return "", err
	}
	return confirmation(resp), nil
}

func (c *Client) simple(ctx context.Context, command, id string) (string, error) {
	resp, err := c.roundTrip(ctx, Request{Command: command, Payload: &id})
	if err != nil {
		return "", err
	}
	return confirmation(resp), nil
}

func confirmation(resp Response) string {
	if s, ok := resp.Payload.(string); ok {
		return s
	}
	return resp.Message
}

// roundTrip performs one full control exchange. Transport failures map onto
// the typed error classes; a daemon-side error response is returned as a
// plain error carrying the daemon's message.
func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	if _, err := os.Stat(c.socketPath); err != nil {
		if os.IsNotExist(err) {
			return Response{}, fmt.Errorf("%w: %s", ErrSocketMissing, c.socketPath)
		}
		return Response{}, fmt.Errorf("stat control socket: %w", err)
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return Response{}, fmt.Errorf("%w: %s", ErrConnectionRefused, c.socketPath)
		}
		return Response{}, fmt.Errorf("dial control socket: %w", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			return Response{}, ErrNoResponse
		}
		return Response{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	if resp.Status != "ok" {
		c.logger.Debug("daemon rejected request", "command", req.Command, "message", resp.Message)
		return resp, errors.New(resp.Message)
	}
	return resp, nil
}
