package models

import "time"

// Result statuses reported by connectors and prompts.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// NodeResult is the output of one action invocation against one artifact, or one
// prompt answer. ArtifactID is empty for container-scoped results.
type NodeResult struct {
	Node       string                   `json:"node"`
	ArtifactID string                   `json:"artifact_id,omitempty"`
	Seq        int                      `json:"seq"`
	Status     string                   `json:"status"`
	Message    string                   `json:"message,omitempty"`
	Parameter  map[string]interface{}   `json:"parameter,omitempty"`
	Data       []map[string]interface{} `json:"data,omitempty"`
	Summary    map[string]interface{}   `json:"summary,omitempty"`
	Timestamp  time.Time                `json:"ts"`
}

// Succeeded reports whether the invocation succeeded.
func (r *NodeResult) Succeeded() bool {
	return r != nil && r.Status == ResultSuccess
}

// ActionOutput is what a connector returns for one invocation.
type ActionOutput struct {
	Message string                   `json:"message,omitempty"`
	Data    []map[string]interface{} `json:"data,omitempty"`
	Summary map[string]interface{}   `json:"summary,omitempty"`
}
