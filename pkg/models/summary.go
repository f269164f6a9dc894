package models

import "time"

// NodeStatus is the runtime state of a playbook node.
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusRunning   NodeStatus = "running"
	StatusSucceeded NodeStatus = "succeeded"
	StatusFailed    NodeStatus = "failed"
	StatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether no further transition can happen.
func (s NodeStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Summary is the audit record emitted once per playbook run.
type Summary struct {
	RunID       string        `json:"run_id"`
	ContainerID string        `json:"container_id"`
	Playbook    string        `json:"playbook"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Counts      SummaryCounts `json:"counts"`
	Nodes       []NodeSummary `json:"nodes"`
}

// NodeSummary describes the final state of one node.
type NodeSummary struct {
	Node     string        `json:"node"`
	Type     string        `json:"type"`
	Status   NodeStatus    `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Results  []NodeResult  `json:"results,omitempty"`
}

// SummaryCounts tallies node outcomes.
type SummaryCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Node returns the summary entry for a node.
func (s *Summary) Node(name string) (NodeSummary, bool) {
	if s == nil {
		return NodeSummary{}, false
	}
	for _, n := range s.Nodes {
		if n.Node == name {
			return n, true
		}
	}
	return NodeSummary{}, false
}
