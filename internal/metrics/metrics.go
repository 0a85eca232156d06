// Package metrics holds the engine's Prometheus collectors, grounded on
// the teacher's internal/app/metrics package: a private registry, a small
// set of named counters/histograms, and a promhttp handler for GET
// /metrics. Collectors is the production implementation of
// executor.Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinela/sentinela/internal/queue"
)

// Collectors bundles every Prometheus metric the engine exposes and
// implements executor.Metrics directly.
type Collectors struct {
	registry *prometheus.Registry

	monitorNotRegistered     prometheus.Counter
	monitorExecutionErrors   prometheus.Counter
	reactionExecutionErrors  prometheus.Counter
	handlerTimeouts          *prometheus.CounterVec
	searchIssuesLimitReached prometheus.Counter

	monitorRuns      *prometheus.CounterVec
	monitorDuration  *prometheus.HistogramVec
	alertsRecomputed prometheus.Counter
	eventsFlushed    prometheus.Counter
	queueDepth       *prometheus.GaugeVec
}

// New constructs Collectors and registers them on a fresh private
// registry, the same isolation the teacher's internal/app/metrics keeps
// from the default global registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),

		monitorNotRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "executor",
			Name:      "monitor_not_registered_total",
			Help:      "Messages received for a monitor the Registry does not know.",
		}),
		monitorExecutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "executor",
			Name:      "monitor_execution_errors_total",
			Help:      "Errors raised from a monitor's search/update/is_solved callback.",
		}),
		reactionExecutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "executor",
			Name:      "reaction_execution_errors_total",
			Help:      "Errors raised from a monitor's reaction callback.",
		}),
		handlerTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "executor",
			Name:      "handler_timeouts_total",
			Help:      "Handler invocations that exceeded their deadline, by queue kind.",
		}, []string{"kind"}),
		searchIssuesLimitReached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "executor",
			Name:      "search_issues_limit_reached_total",
			Help:      "search() calls that hit max_issues_creation and dropped issues.",
		}),

		monitorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "monitor",
			Name:      "runs_total",
			Help:      "Completed monitor runs by outcome.",
		}, []string{"kind", "outcome"}),
		monitorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentinela",
			Subsystem: "monitor",
			Name:      "run_duration_seconds",
			Help:      "Duration of monitor search/update runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		alertsRecomputed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "alert",
			Name:      "recomputed_total",
			Help:      "Alert recomputation passes run by the Store.",
		}),
		eventsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinela",
			Subsystem: "eventbus",
			Name:      "events_flushed_total",
			Help:      "Outbox events published onto the Work Queue.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sentinela",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Approximate Work Queue depth by message kind.",
		}, []string{"kind"}),
	}

	c.registry.MustRegister(
		c.monitorNotRegistered,
		c.monitorExecutionErrors,
		c.reactionExecutionErrors,
		c.handlerTimeouts,
		c.searchIssuesLimitReached,
		c.monitorRuns,
		c.monitorDuration,
		c.alertsRecomputed,
		c.eventsFlushed,
		c.queueDepth,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return c
}

// Handler exposes the registry over GET /metrics.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) IncMonitorNotRegistered()     { c.monitorNotRegistered.Inc() }
func (c *Collectors) IncMonitorExecutionError()    { c.monitorExecutionErrors.Inc() }
func (c *Collectors) IncReactionExecutionError()   { c.reactionExecutionErrors.Inc() }
func (c *Collectors) IncSearchIssuesLimitReached() { c.searchIssuesLimitReached.Inc() }

func (c *Collectors) IncHandlerTimeout(kind queue.Kind) {
	c.handlerTimeouts.WithLabelValues(string(kind)).Inc()
}

// RecordMonitorRun records one completed search/update run.
func (c *Collectors) RecordMonitorRun(kind, outcome string, duration time.Duration) {
	c.monitorRuns.WithLabelValues(kind, outcome).Inc()
	c.monitorDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncAlertRecomputed counts one RecomputeAlert pass.
func (c *Collectors) IncAlertRecomputed() { c.alertsRecomputed.Inc() }

// IncEventsFlushed counts events the Outbox Flusher published, by batch
// size.
func (c *Collectors) IncEventsFlushed(n int) {
	if n <= 0 {
		return
	}
	c.eventsFlushed.Add(float64(n))
}

// SetQueueDepth reports the Work Queue's approximate depth for kind.
func (c *Collectors) SetQueueDepth(kind queue.Kind, depth int) {
	c.queueDepth.WithLabelValues(string(kind)).Set(float64(depth))
}
