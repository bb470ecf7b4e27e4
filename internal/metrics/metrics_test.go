package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()

	r.Attempt("scenario-01-go")
	r.Attempt("scenario-01-go")
	r.Retry("rate_limit")
	r.LayerFailure("L3")
	r.Outcome("failed")

	require.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("scenario-01-go")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("rate_limit")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.layerFailures.WithLabelValues("L3")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.scenarios.WithLabelValues("failed")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	require.NotPanics(t, func() {
		r.Attempt("x")
		r.Retry("rate_limit")
		r.LayerFailure("L0")
		r.Outcome("passed")
	})
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := New()
	r.Outcome("passed")
	path := filepath.Join(t.TempDir(), "agentconform.prom")

	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `agentconform_scenarios_total{outcome="passed"} 1`)
}
