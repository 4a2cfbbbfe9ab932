// Package metrics exposes Prometheus collectors for the orchestration layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the private registry served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ResilientAttempts counts attempts made by the resilient client, labelled by outcome kind.
var ResilientAttempts = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "resilience",
	Name:      "attempts_total",
	Help:      "Remote call attempts by server, method and outcome",
}, []string{"server", "method", "outcome"})

// RateLimitDecisions counts admissions and rejections per limiter.
var RateLimitDecisions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "ratelimit",
	Name:      "decisions_total",
	Help:      "Rate limiter decisions by limiter and result",
}, []string{"limiter", "result"})

// MessagesSent counts messages delivered by channel.
var MessagesSent = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "dispatch",
	Name:      "messages_sent_total",
	Help:      "Messages sent by channel",
}, []string{"channel"})

// DispatchFailures counts per-lead send failures.
var DispatchFailures = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "dispatch",
	Name:      "failures_total",
	Help:      "Per-lead dispatch failures by channel",
}, []string{"channel"})

// DispatchRuns counts engine runs by outcome.
var DispatchRuns = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "dispatch",
	Name:      "runs_total",
	Help:      "Dispatch runs by outcome",
}, []string{"outcome"})

// DispatchRunDuration observes the wall time of a dispatch run.
var DispatchRunDuration = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "outreach",
	Subsystem: "dispatch",
	Name:      "run_duration_seconds",
	Help:      "Wall time of dispatch runs, jitter sleeps included",
	Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
})

// IdempotencyHits counts sends short-circuited by a cached receipt.
var IdempotencyHits = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "idempotency",
	Name:      "hits_total",
	Help:      "Sends answered from the idempotency store",
})

// SentimentVerdicts counts compliance gate verdicts.
var SentimentVerdicts = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "compliance",
	Name:      "verdicts_total",
	Help:      "Sentiment verdicts by category, block flag and degradation",
}, []string{"category", "blocked", "degraded"})

// NegotiationTransitions counts scheduling negotiation phases.
var NegotiationTransitions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "negotiation",
	Name:      "transitions_total",
	Help:      "Scheduling negotiation phase results",
}, []string{"phase", "result"})

// CredentialFetches counts secret fetches against the backing source.
var CredentialFetches = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "credentials",
	Name:      "fetches_total",
	Help:      "Credential fetches by kind and result",
}, []string{"kind", "result"})

// TriggersConsumed counts bus triggers handled by the event worker.
var TriggersConsumed = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "outreach",
	Subsystem: "events",
	Name:      "triggers_consumed_total",
	Help:      "Bus triggers consumed by type and result",
}, []string{"type", "result"})
