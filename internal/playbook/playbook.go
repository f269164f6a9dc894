// Package playbook compiles playbook definitions into a validated node graph.
package playbook

import (
	"time"

	"soarbook/internal/condition"
	"soarbook/internal/store"
	"soarbook/pkg/models"
)

// NodeType distinguishes the node variants.
type NodeType string

const (
	TypeAction NodeType = "action"
	TypeFilter NodeType = "filter"
	TypePrompt NodeType = "prompt"
	TypeJoin   NodeType = "join"
)

// Node is a compiled playbook step.
type Node struct {
	Name string
	Type NodeType
	// Next lists every declared successor. For filters it is the union of the
	// branch successors in declaration order.
	Next []string

	Action *ActionSpec
	Filter *FilterSpec
	Prompt *PromptSpec
	Join   *JoinSpec
}

// ActionSpec invokes a connector once per parameter set.
type ActionSpec struct {
	Action     string
	Asset      string
	Parameters []Parameter
}

// Parameter is a named datapath. The first parameter of an action is its
// primary input.
type Parameter struct {
	Name string
	Path store.Path
}

// FilterSpec holds independent branches.
type FilterSpec struct {
	Branches []Branch
}

// Branch logic values.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Branch gates its own successors on its own conditions.
type Branch struct {
	Name       string
	Logic      string
	Conditions []condition.Condition
	Next       []string
}

// PromptSpec asks an analyst and waits for the answer.
type PromptSpec struct {
	User       string
	Message    string
	Parameters []store.Path
	Questions  []models.PromptQuestion
	Timeout    time.Duration
}

// JoinSpec gates its downstream on a fixed set of upstreams. The join fires
// once every upstream is terminal, skipped ones included; SkipWhenAllSkipped
// skips it instead when none of them ran.
type JoinSpec struct {
	WaitFor            []string
	SkipWhenAllSkipped bool
}

// Playbook is an immutable, validated node graph.
type Playbook struct {
	Name        string
	Description string

	nodes   []*Node
	byName  map[string]*Node
	preds   map[string][]string
	entries []string
}

// Nodes returns the nodes in declaration order.
func (p *Playbook) Nodes() []*Node {
	return p.nodes
}

// Node returns a node by name.
func (p *Playbook) Node(name string) (*Node, bool) {
	n, ok := p.byName[name]
	return n, ok
}

// Entries returns nodes without predecessors, in declaration order.
func (p *Playbook) Entries() []string {
	return p.entries
}

// Predecessors returns the nodes that list name as a successor.
func (p *Playbook) Predecessors(name string) []string {
	return p.preds[name]
}

// JoinsWaitingOn returns the joins that track the given upstream.
func (p *Playbook) JoinsWaitingOn(name string) []string {
	var out []string
	for _, n := range p.nodes {
		if n.Type != TypeJoin {
			continue
		}
		for _, up := range n.Join.WaitFor {
			if up == name {
				out = append(out, n.Name)
				break
			}
		}
	}
	return out
}
