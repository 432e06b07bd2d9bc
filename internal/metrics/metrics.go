// ABOUTME: Prometheus instrumentation for the command and webhook pipelines
// ABOUTME: One registry, package-level instruments, and the scrape handler

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// CommandsTotal counts handled commands by intent and outcome.
	CommandsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "periscope_commands_total",
		Help: "Commands handled, by intent and outcome.",
	}, []string{"intent", "outcome"})

	// CommandDuration observes end-to-end command latency.
	CommandDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "periscope_command_duration_seconds",
		Help:    "End-to-end command pipeline latency.",
		Buckets: prometheus.DefBuckets,
	})

	// WebhooksTotal counts ingested deliveries by event type and outcome.
	WebhooksTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "periscope_webhooks_total",
		Help: "Webhook deliveries ingested, by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// NotificationsTotal counts notification pipeline outcomes.
	NotificationsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "periscope_notifications_total",
		Help: "Notification pipeline outcomes: delivered, collapsed, throttled.",
	}, []string{"outcome"})

	// AgentTasksTotal counts agent task state transitions.
	AgentTasksTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "periscope_agent_tasks_total",
		Help: "Agent task transitions, by new state.",
	}, []string{"state"})
)

// Handler returns the scrape endpoint for the private registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveCommand records one command with its latency.
func ObserveCommand(intent, outcome string, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(intent, outcome).Inc()
	CommandDuration.Observe(elapsed.Seconds())
}
