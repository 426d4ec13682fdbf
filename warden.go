package warden

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/history"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/metrics"
	"github.com/warden-project/warden/internal/process"
	"github.com/warden-project/warden/internal/server"
	"github.com/warden-project/warden/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = process.Status

type State = process.State

type Program = config.Program

type Config = config.Config

type LogConfig = logger.Config

type HistorySink = history.Sink

type Options = supervisor.Options

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) *Supervisor {
	return &Supervisor{inner: supervisor.New(opts)}
}

func (s *Supervisor) Run(ctx context.Context)          { s.inner.Start(ctx) }
func (s *Supervisor) Start(id string) error            { return s.inner.Spawn(id) }
func (s *Supervisor) Stop(id string) error             { return s.inner.RequestStop(id) }
func (s *Supervisor) Restart(id string) error          { return s.inner.RequestRestart(id) }
func (s *Supervisor) Apply(progs []Program) int        { return s.inner.Apply(progs) }
func (s *Supervisor) Status(id string) (Status, error) { return s.inner.SnapshotOne(id) }
func (s *Supervisor) StatusAll() []Status              { return s.inner.Snapshot() }
func (s *Supervisor) StopAll(wait time.Duration)       { s.inner.StopAll(wait) }
func (s *Supervisor) Shutdown()                        { s.inner.Shutdown() }

// ServeControl binds the unix control socket and serves the control protocol
// until the returned dispatcher is closed.
func (s *Supervisor) ServeControl(programsPath, socketPath string, log *slog.Logger) (*server.Dispatcher, error) {
	d := server.NewDispatcher(s.inner, programsPath, socketPath, log)
	if err := d.Listen(); err != nil {
		return nil, err
	}
	go d.Serve()
	return d, nil
}

// HTTPHandler returns the embeddable management API handler.
func (s *Supervisor) HTTPHandler(programsPath, basePath string) http.Handler {
	return server.NewRouter(s.inner, programsPath, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the management API using the
// given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor, programsPath string) *http.Server {
	return server.NewServer(addr, basePath, s.inner, programsPath)
}

func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

func LoadPrograms(path string) ([]Program, error) {
	return config.LoadPrograms(path)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
func MetricsHandler() http.Handler                  { return metrics.Handler() }
