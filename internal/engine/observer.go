package engine

import (
	"time"

	"soarbook/pkg/models"
)

// Observer receives run telemetry. Implementations must be safe for
// concurrent use; invocations are reported from worker goroutines.
type Observer interface {
	ObserveNode(playbook, node, nodeType string, status models.NodeStatus, duration time.Duration)
	ObserveInvocation(asset, action, status string, duration time.Duration)
	ObserveRun(summary *models.Summary)
}
