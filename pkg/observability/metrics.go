package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/conduit/pkg/domain"
)

// Namespace prefixes every metric name.
const Namespace = "conduit"

// Metrics holds the Prometheus collectors fed by lifecycle hooks.
type Metrics struct {
	NodeVisits      *prometheus.CounterVec
	NodeDuration    *prometheus.HistogramVec
	NodeErrors      *prometheus.CounterVec
	StatusChanges   *prometheus.CounterVec
	AgentDecisions  *prometheus.CounterVec
	AgentConfidence *prometheus.HistogramVec
	BranchFailures  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "node_visits_total",
				Help:      "Total number of node visits",
			},
			[]string{"node"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node executions",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"node"},
		),
		NodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "node_errors_total",
				Help:      "Node executions that returned an error",
			},
			[]string{"node", "kind"},
		),
		StatusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "run_status_transitions_total",
				Help:      "Run status transitions by target status",
			},
			[]string{"status"},
		),
		AgentDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "agent_decisions_total",
				Help:      "Agent decisions, split by whether the default was used",
			},
			[]string{"agent", "fallback"},
		),
		AgentConfidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "agent_confidence",
				Help:      "Confidence of accepted agent decisions",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
			[]string{"agent"},
		),
		BranchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "branch_failures_total",
				Help:      "Failed branches of parallel nodes",
			},
			[]string{"node"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.NodeVisits, m.NodeDuration, m.NodeErrors, m.StatusChanges,
		m.AgentDecisions, m.AgentConfidence, m.BranchFailures,
	}
}

// Hooks returns lifecycle hooks recording into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeVisits.WithLabelValues(e.Node).Inc()
		},
		OnNodeLeave: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeDuration.WithLabelValues(e.Node).Observe(e.Duration.Seconds())
			if e.Err != nil {
				m.NodeErrors.WithLabelValues(e.Node, string(domain.KindOf(e.Err))).Inc()
			}
		},
		OnBranchDone: func(_ context.Context, e *domain.BranchEvent) {
			if e.Err != nil {
				m.BranchFailures.WithLabelValues(e.Node).Inc()
			}
		},
		OnStatusChange: func(_ context.Context, e *domain.StatusEvent) {
			m.StatusChanges.WithLabelValues(string(e.To)).Inc()
		},
		OnDecision: func(_ context.Context, e *domain.DecisionEvent) {
			fallback := "false"
			if e.Decision.UsedFallback {
				fallback = "true"
			} else {
				m.AgentConfidence.WithLabelValues(e.Decision.Agent).Observe(e.Decision.Confidence)
			}
			m.AgentDecisions.WithLabelValues(e.Decision.Agent, fallback).Inc()
		},
	}
}
