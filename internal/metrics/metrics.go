package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process spawns.",
		}, []string{"id"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of exits following an explicit stop request.",
		}, []string{"id"},
	)
	processCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "crashes_total",
			Help:      "Number of exits without a stop request, spawn failures included.",
		}, []string{"id"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of automatic respawns after a crash.",
		}, []string{"id"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "Current state of managed processes (1 = active state, 0 = inactive).",
		}, []string{"id", "state"},
	)
)

// Register registers all metrics with the provided registerer. It is safe to
// call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, processCrashes, processRestarts, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer. The caller wires
// the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(id string) {
	if regOK.Load() {
		processStarts.WithLabelValues(id).Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		processStops.WithLabelValues(id).Inc()
	}
}

func IncCrash(id string) {
	if regOK.Load() {
		processCrashes.WithLabelValues(id).Inc()
	}
}

func IncRestart(id string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(id).Inc()
	}
}

func SetCurrentState(id, state string, active bool) {
	if regOK.Load() {
		v := float64(0)
		if active {
			v = 1
		}
		currentStates.WithLabelValues(id, state).Set(v)
	}
}
