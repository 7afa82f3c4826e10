package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_ObserveStage(t *testing.T) {
	r := NewPrometheusRecorder("test")

	r.ObserveStage("validate", 10, 7, 5*time.Millisecond)
	r.ObserveStage("validate", 4, 4, time.Millisecond)

	assert.Equal(t, 14.0, testutil.ToFloat64(r.stageRows.WithLabelValues("validate", "in")))
	assert.Equal(t, 11.0, testutil.ToFloat64(r.stageRows.WithLabelValues("validate", "out")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))
}

func TestPrometheusRecorder_ObserveRemoved(t *testing.T) {
	r := NewPrometheusRecorder("test")

	r.ObserveRemoved("duplicate_rows", 2)
	r.ObserveRemoved("duplicate_rows", 1)
	r.ObserveRemoved("invalid_prices", 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.removedRows.WithLabelValues("duplicate_rows")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.removedRows))
}

func TestPrometheusRecorder_ObserveRun(t *testing.T) {
	r := NewPrometheusRecorder("")

	r.ObserveRun(StatusSuccess, 2*time.Second)
	r.ObserveRun(StatusFailed, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runDuration))
	assert.Greater(t, testutil.ToFloat64(r.lastRun), 0.0)
}

func TestPrometheusRecorder_WriteTextfile(t *testing.T) {
	r := NewPrometheusRecorder("etl")
	r.ObserveRemoved("ohlc_violations", 5)

	path := filepath.Join(t.TempDir(), "etl.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `etl_validation_removed_rows_total{rule="ohlc_violations"} 5`)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NotPanics(t, func() {
		r.ObserveStage("load", 1, 1, time.Second)
		r.ObserveRemoved("x", 1)
		r.ObserveRun(StatusSuccess, time.Second)
	})
}
