// Package metrics counts agent attempts, retries, and verification outcomes, and exports them
// in Prometheus text format for CI collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "agentconform"

// Recorder owns a private registry so separate runs (and tests) never share counters.
type Recorder struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	layerFailures *prometheus.CounterVec
	scenarios     *prometheus.CounterVec
}

// New creates a Recorder with all counters registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Agent invocations, including retries.",
		}, []string{"scenario"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries by transient failure reason.",
		}, []string{"reason"}),
		layerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_failures_total",
			Help:      "Contract violations by verification layer.",
		}, []string{"layer"}),
		scenarios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Completed scenario runs by outcome.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(r.attempts, r.retries, r.layerFailures, r.scenarios)
	return r
}

// Attempt counts one agent invocation for scenario. Safe on a nil Recorder, as are the other
// recording methods.
func (r *Recorder) Attempt(scenario string) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(scenario).Inc()
}

func (r *Recorder) Retry(reason string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(reason).Inc()
}

func (r *Recorder) LayerFailure(layer string) {
	if r == nil {
		return
	}
	r.layerFailures.WithLabelValues(layer).Inc()
}

// Outcome counts a finished scenario. outcome is "passed", "failed", or "error".
func (r *Recorder) Outcome(outcome string) {
	if r == nil {
		return
	}
	r.scenarios.WithLabelValues(outcome).Inc()
}

// Gather implements prometheus.Gatherer over the Recorder's own counters.
func (r *Recorder) Gather() ([]*dto.MetricFamily, error) {
	return r.registry.Gather()
}

// WriteTextfile atomically writes all metrics to path in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r)
}
