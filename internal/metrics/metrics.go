// Package metrics exposes the bot's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns         *prometheus.CounterVec
	remoteCall    prometheus.Histogram
	storageFaults *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// New creates and registers every collector, including the Go runtime ones.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notarobot_turns_total",
			Help: "Conversation turns by outcome.",
		}, []string{"outcome"}),
		remoteCall: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notarobot_remote_call_seconds",
			Help:    "Duration of bounded generative-text calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
		}),
		storageFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notarobot_storage_faults_total",
			Help: "History store faults by operation.",
		}, []string{"op"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notarobot_commands_total",
			Help: "Command invocations by command and result.",
		}, []string{"command", "result"}),
	}
	m.registry.MustRegister(
		m.turns,
		m.remoteCall,
		m.storageFaults,
		m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format. With a nil receiver it responds 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RemoteCall(d time.Duration) {
	if m == nil {
		return
	}
	m.remoteCall.Observe(d.Seconds())
}

func (m *Metrics) StorageFault(op string) {
	if m == nil {
		return
	}
	m.storageFaults.WithLabelValues(op).Inc()
}

func (m *Metrics) Command(name, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, result).Inc()
}
