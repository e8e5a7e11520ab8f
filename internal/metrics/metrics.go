// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Task outcomes recorded in TasksTotal.
const (
	OutcomeDone      = "done"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// AI call results recorded in AICallsTotal.
const (
	CallOK    = "ok"
	CallError = "error"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	TasksTotal   *prometheus.CounterVec
	RepairsTotal prometheus.Counter
	AICallsTotal *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	ClaimedTasks prometheus.Counter
	RateLimited  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentscore",
			Name:      "tasks_total",
			Help:      "Scoring tasks that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentscore",
			Name:      "repairs_total",
			Help:      "Repair calls issued after unparseable model output.",
		}),
		AICallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentscore",
			Name:      "ai_calls_total",
			Help:      "Calls made to the text-generation provider.",
		}, []string{"provider", "result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentscore",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single run invocation.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ClaimedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentscore",
			Name:      "claimed_tasks_total",
			Help:      "Tasks moved from queued to running by a claim.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentscore",
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-key rate limit.",
		}),
	}
	reg.MustRegister(m.TasksTotal, m.RepairsTotal, m.AICallsTotal, m.RunDuration, m.ClaimedTasks, m.RateLimited)
	return m
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors alongside the engine metrics.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, New(reg)
}
