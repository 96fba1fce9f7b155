package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// analysesTotal counts finished analyses.
	// Labels: outcome (succeeded, degraded, failed)
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesec",
		Subsystem: "pipeline",
		Name:      "analyses_total",
		Help:      "Total analyses by outcome",
	}, []string{"outcome"})

	// toolInvocationsTotal counts calls forwarded to the tool server.
	// Labels: result (ok, timeout, protocol, startup, aborted)
	toolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesec",
		Subsystem: "tool",
		Name:      "invocations_total",
		Help:      "Tool invocations forwarded to the tool server by result",
	}, []string{"result"})

	gateDenialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codesec",
		Subsystem: "tool",
		Name:      "gate_denials_total",
		Help:      "Tool invocations refused by the per-request gate",
	})

	// findingsTotal counts report issues by the source that produced them.
	// Labels: source (tool, model)
	findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codesec",
		Subsystem: "pipeline",
		Name:      "findings_total",
		Help:      "Issues in emitted reports by source",
	}, []string{"source"})

	analysisLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codesec",
		Subsystem: "pipeline",
		Name:      "latency_seconds",
		Help:      "End-to-end analysis latency",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})
)
