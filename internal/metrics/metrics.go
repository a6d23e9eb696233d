// Package metrics exports transition and upgrade counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"limscore/internal/upgrade"
	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

const namespace = "limscore"

// Recorder observes invoker outcomes and upgrade procedure runs. Each
// recorder owns its registry so several services can live in one process.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	procedures  *prometheus.HistogramVec
}

var (
	_ workflow.OutcomeRecorder  = (*Recorder)(nil)
	_ upgrade.ProcedureRecorder = (*Recorder)(nil)
)

// New builds a recorder with its collectors registered. Go runtime and
// process collectors are included when withRuntime is set.
func New(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition requests handled by the invoker, by action and outcome.",
		}, []string{"action", "outcome"}),
		procedures: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upgrade_procedure_seconds",
			Help:      "Duration of upgrade procedures.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"product", "version", "procedure", "status"}),
	}
	r.registry.MustRegister(r.transitions, r.procedures)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// ObserveTransition counts one invoker result.
func (r *Recorder) ObserveTransition(action string, outcome domain.Outcome) {
	if action == "" {
		return
	}
	r.transitions.WithLabelValues(action, string(outcome)).Inc()
}

// ObserveProcedure records one procedure run.
func (r *Recorder) ObserveProcedure(product, version, procedure string, success bool, d time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.procedures.WithLabelValues(product, version, procedure, status).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
