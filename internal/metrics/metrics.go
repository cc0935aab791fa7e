// Package metrics exposes batch outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claimer/internal/orchestrator"
)

const namespace = "claimer"

// Recorder counts claims and step outcomes on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	claims       *prometheus.CounterVec
	steps        *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	runDurations *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		claims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claims_total",
				Help:      "Completed checkout runs by terminal status.",
			},
			[]string{"status"},
		),
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "outcomes_total",
				Help:      "Executed workflow steps by name and result.",
			},
			[]string{"step", "result"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "step",
				Name:      "script_fallbacks_total",
				Help:      "Targets that needed a script interaction after the native one was rejected.",
			},
			[]string{"step"},
		),
		runDurations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of one checkout run.",
				Buckets:   prometheus.ExponentialBuckets(5, 2, 8), // 5s to ~10m
			},
			[]string{"status"},
		),
	}
}

// ObserveClaim implements orchestrator.Observer.
func (r *Recorder) ObserveClaim(c orchestrator.ClaimResult) {
	status := c.Status.String()
	r.claims.WithLabelValues(status).Inc()
	r.runDurations.WithLabelValues(status).Observe(c.Result.Duration.Seconds())

	for _, o := range c.Result.Steps {
		r.steps.WithLabelValues(o.Step, o.Result.String()).Inc()
		for _, t := range o.Targets {
			if t.Fallback {
				r.fallbacks.WithLabelValues(o.Step).Inc()
			}
		}
	}
}

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

var _ orchestrator.Observer = (*Recorder)(nil)
