package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NoError(t, Register(reg))
	assert.NoError(t, Register(reg))
	// registering the same collectors elsewhere must also be tolerated
	assert.NoError(t, Register(prometheus.NewRegistry()))
}

func TestCountersTrackLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NoError(t, Register(reg))

	IncStart("m1")
	IncStart("m1")
	IncStop("m1")
	IncCrash("m1")
	IncRestart("m1")

	assert.Equal(t, float64(2), testutil.ToFloat64(processStarts.WithLabelValues("m1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(processStops.WithLabelValues("m1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(processCrashes.WithLabelValues("m1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(processRestarts.WithLabelValues("m1")))
}

func TestCurrentStateGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NoError(t, Register(reg))

	SetCurrentState("m2", "running", true)
	SetCurrentState("m2", "stopped", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(currentStates.WithLabelValues("m2", "running")))
	assert.Equal(t, float64(0), testutil.ToFloat64(currentStates.WithLabelValues("m2", "stopped")))
}

func TestHandlerNotNil(t *testing.T) {
	assert.NotNil(t, Handler())
}
