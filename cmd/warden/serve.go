package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/history"
	chsink "github.com/warden-project/warden/internal/history/clickhouse"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/metrics"
	"github.com/warden-project/warden/internal/server"
	"github.com/warden-project/warden/internal/store"
	storefactory "github.com/warden-project/warden/internal/store/factory"
	"github.com/warden-project/warden/internal/supervisor"
)

// shutdownWait bounds how long children get between the termination signal
// and the daemon giving up on them at exit.
const shutdownWait = 10 * time.Second

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.NewDaemonLogger(os.Stderr, cfg.LogLevel)

	var st store.Store
	if cfg.Store.DSN != "" {
		st, err = storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer func() { _ = st.Close() }()
		if err := st.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("prepare run store: %w", err)
		}
		log.Info("run store enabled", "dsn", cfg.Store.DSN)
	}

	var sinks []history.Sink
	if cfg.History.ClickHouseAddr != "" {
		sink, err := chsink.New(chsink.Options{
			Addr:     cfg.History.ClickHouseAddr,
			Database: cfg.History.ClickHouseDatabase,
			Username: cfg.History.ClickHouseUser,
			Password: cfg.History.ClickHousePassword,
			Table:    cfg.History.ClickHouseTable,
		})
		if err != nil {
			return fmt.Errorf("connect history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		sinks = append(sinks, sink)
		log.Info("clickhouse history sink enabled", "addr", cfg.History.ClickHouseAddr)
	}

	if cfg.HTTP.Metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	sup := supervisor.New(supervisor.Options{
		Logger:       log,
		LogConfig:    cfg.Log,
		Store:        st,
		Sinks:        sinks,
		RestartDelay: cfg.RestartDelay,
		KillTimeout:  cfg.KillTimeout,
		Env:          cfg.Env,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)

	// initial program list; a missing file is tolerated so a fresh host can
	// start the daemon first and ship the list later
	progs, err := config.LoadPrograms(cfg.Programs)
	switch {
	case err == nil:
		started := sup.Apply(progs)
		log.Info("program list applied", "path", cfg.Programs, "programs", len(progs), "started", started)
	case os.IsNotExist(err):
		log.Warn("program list not found, starting empty", "path", cfg.Programs)
	default:
		return err
	}

	disp := server.NewDispatcher(sup, cfg.Programs, cfg.Socket, log)
	if err := disp.Listen(); err != nil {
		return err
	}
	go disp.Serve()

	var httpSrv *http.Server
	if cfg.HTTP.Listen != "" {
		httpSrv = newHTTPServer(cfg, sup)
		log.Info("http api listening", "addr", cfg.HTTP.Listen, "base_path", cfg.HTTP.BasePath)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	log.Info("shutting down", "signal", got.String())

	sup.StopAll(shutdownWait)
	if httpSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(sctx)
		scancel()
	}
	if err := disp.Close(); err != nil {
		log.Warn("control socket close failed", "error", err)
	}
	cancel()
	sup.Shutdown()
	log.Info("daemon stopped")
	return nil
}

func newHTTPServer(cfg config.Config, sup *supervisor.Supervisor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", server.NewRouter(sup, cfg.Programs, cfg.HTTP.BasePath).Handler())
	if cfg.HTTP.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
