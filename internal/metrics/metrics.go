// Package metrics exposes router counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "policy_router"

// Policy request outcomes.
const (
	OutcomeOverride   = "override"
	OutcomeProxied    = "proxied"
	OutcomeUpstream   = "upstream_error"
	OutcomeNoMatch    = "no_match"
	OutcomeNoTarget   = "no_target"
	OutcomeEngineFail = "error"
)

// Collector holds every metric of the router. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	policyRequests   *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	ruleRejections   *prometheus.CounterVec
	sinkFailures     *prometheus.CounterVec
	logicEvaluations *prometheus.CounterVec
}

// NewCollector registers the router metrics plus Go runtime collectors on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		policyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_requests_total",
			Help:      "Policy requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of upstream policy server calls.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		ruleRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_write_rejections_total",
			Help:      "Rule writes rejected by validation.",
		}, []string{"reason"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_log_failures_total",
			Help:      "Request log entries that could not be recorded.",
		}, []string{"kind"}),
		logicEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logic_evaluations_total",
			Help:      "Advanced logic evaluations by kind and result.",
		}, []string{"kind", "matched"}),
	}
	registry.MustRegister(
		c.policyRequests,
		c.upstreamLatency,
		c.ruleRejections,
		c.sinkFailures,
		c.logicEvaluations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// PolicyRequest counts one answered policy request.
func (c *Collector) PolicyRequest(kind, outcome string) {
	if c == nil {
		return
	}
	c.policyRequests.WithLabelValues(kind, outcome).Inc()
}

// UpstreamLatency observes one upstream round trip.
func (c *Collector) UpstreamLatency(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.upstreamLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RuleRejected counts a rejected rule write.
func (c *Collector) RuleRejected(reason string) {
	if c == nil {
		return
	}
	c.ruleRejections.WithLabelValues(reason).Inc()
}

// SinkFailure counts a request log write failure.
func (c *Collector) SinkFailure(kind string) {
	if c == nil {
		return
	}
	c.sinkFailures.WithLabelValues(kind).Inc()
}

// LogicEvaluated counts one advanced logic evaluation.
func (c *Collector) LogicEvaluated(kind string, matched bool) {
	if c == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	c.logicEvaluations.WithLabelValues(kind, label).Inc()
}
