// Package metrics exports playbook telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"soarbook/pkg/models"
)

// Collector implements engine.Observer on Prometheus vectors.
type Collector struct {
	nodes       *prometheus.CounterVec
	nodeSeconds *prometheus.HistogramVec
	invocations *prometheus.CounterVec
	invSeconds  *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runSeconds  *prometheus.HistogramVec
}

// New creates a collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soarbook",
			Name:      "nodes_total",
			Help:      "Playbook nodes reaching a terminal state.",
		}, []string{"playbook", "node", "type", "status"}),
		nodeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soarbook",
			Name:      "node_duration_seconds",
			Help:      "Time from node start to completion.",
			Buckets:   []float64{.01, .05, .25, 1, 5, 30, 120, 600, 1800},
		}, []string{"playbook", "type"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soarbook",
			Name:      "action_invocations_total",
			Help:      "Connector invocations by outcome.",
		}, []string{"asset", "action", "status"}),
		invSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soarbook",
			Name:      "action_invocation_duration_seconds",
			Help:      "Connector invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"asset", "action"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "soarbook",
			Name:      "runs_total",
			Help:      "Completed playbook runs, labelled by whether any node failed.",
		}, []string{"playbook", "outcome"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "soarbook",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a playbook run.",
			Buckets:   []float64{.1, 1, 10, 60, 300, 1800, 3600},
		}, []string{"playbook"}),
	}

	for _, col := range []prometheus.Collector{c.nodes, c.nodeSeconds, c.invocations, c.invSeconds, c.runs, c.runSeconds} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveNode records a node reaching a terminal state. Skipped nodes never
// started, so they carry no duration.
func (c *Collector) ObserveNode(playbook, node, nodeType string, status models.NodeStatus, duration time.Duration) {
	c.nodes.WithLabelValues(playbook, node, nodeType, string(status)).Inc()
	if status != models.StatusSkipped {
		c.nodeSeconds.WithLabelValues(playbook, nodeType).Observe(duration.Seconds())
	}
}

// ObserveInvocation records one connector call.
func (c *Collector) ObserveInvocation(asset, action, status string, duration time.Duration) {
	c.invocations.WithLabelValues(asset, action, status).Inc()
	c.invSeconds.WithLabelValues(asset, action).Observe(duration.Seconds())
}

// ObserveRun records a finished run.
func (c *Collector) ObserveRun(summary *models.Summary) {
	if summary == nil {
		return
	}
	outcome := "clean"
	if summary.Counts.Failed > 0 {
		outcome = "failed_nodes"
	}
	c.runs.WithLabelValues(summary.Playbook, outcome).Inc()
	c.runSeconds.WithLabelValues(summary.Playbook).Observe(summary.CompletedAt.Sub(summary.StartedAt).Seconds())
}
