// Package metrics exposes Prometheus collectors for sessions and command
// dispatch.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every shellpilot metric. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsExited   *prometheus.CounterVec
	CommandsQueued   prometheus.Counter
	CommandsResolved *prometheus.CounterVec
	CommandDuration  prometheus.Histogram
	CredentialAsks   *prometheus.CounterVec
	Confirmations    prometheus.Counter
	EventsDropped    prometheus.Counter
}

// New creates a Collector on its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "shellpilot_sessions_active",
			Help: "Number of running shell sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "shellpilot_sessions_created_total",
			Help: "Total number of shell sessions created",
		}),
		SessionsExited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shellpilot_sessions_exited_total",
			Help: "Total number of shell sessions that exited, by cause",
		}, []string{"cause"}),
		CommandsQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "shellpilot_commands_queued_total",
			Help: "Total number of commands queued behind a busy session",
		}),
		CommandsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shellpilot_commands_total",
			Help: "Total number of resolved commands, by status",
		}, []string{"status"}),
		CommandDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shellpilot_command_duration_seconds",
			Help:    "Time from dispatch to resolution",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		CredentialAsks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shellpilot_credential_requests_total",
			Help: "Credential requests sent to the permission provider, by outcome",
		}, []string{"outcome"}),
		Confirmations: f.NewCounter(prometheus.CounterOpts{
			Name: "shellpilot_confirmations_answered_total",
			Help: "Confirmation prompts answered automatically",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "shellpilot_events_dropped_total",
			Help: "Notifications dropped because a subscriber was slow",
		}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.SessionsCreated.Inc()
	c.SessionsActive.Inc()
}

func (c *Collector) SessionEnded(cause string) {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
	c.SessionsExited.WithLabelValues(cause).Inc()
}

func (c *Collector) CommandQueued() {
	if c == nil {
		return
	}
	c.CommandsQueued.Inc()
}

func (c *Collector) CommandResolved(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.CommandsResolved.WithLabelValues(status).Inc()
	if d > 0 {
		c.CommandDuration.Observe(d.Seconds())
	}
}

func (c *Collector) CredentialRequested(outcome string) {
	if c == nil {
		return
	}
	c.CredentialAsks.WithLabelValues(outcome).Inc()
}

func (c *Collector) ConfirmationAnswered() {
	if c == nil {
		return
	}
	c.Confirmations.Inc()
}

func (c *Collector) EventDropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsDropped.Add(float64(n))
}
