package playbook

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"soarbook/internal/condition"
	"soarbook/internal/store"
	"soarbook/pkg/models"
)

// Compile builds and validates a playbook from its definition. All problems
// found are returned together.
func Compile(def *Definition) (*Playbook, error) {
	if def == nil {
		return nil, fmt.Errorf("playbook definition is nil")
	}
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("playbook name is required")
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("playbook %q has no nodes", def.Name)
	}

	p := &Playbook{
		Name:        def.Name,
		Description: def.Description,
		byName:      make(map[string]*Node, len(def.Nodes)),
		preds:       make(map[string][]string, len(def.Nodes)),
	}

	var errs []error
	for i := range def.Nodes {
		nd := &def.Nodes[i]
		if nd.Name == "" {
			errs = append(errs, fmt.Errorf("node #%d: name is required", i+1))
			continue
		}
		if _, dup := p.byName[nd.Name]; dup {
			errs = append(errs, fmt.Errorf("node %q: declared more than once", nd.Name))
			continue
		}
		node, err := buildNode(nd)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", nd.Name, err))
			continue
		}
		p.nodes = append(p.nodes, node)
		p.byName[node.Name] = node
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildNode(nd *NodeDef) (*Node, error) {
	node := &Node{Name: nd.Name, Type: NodeType(nd.Type)}

	switch node.Type {
	case TypeAction:
		if strings.TrimSpace(nd.Action) == "" {
			return nil, fmt.Errorf("action name is required")
		}
		if strings.TrimSpace(nd.Asset) == "" {
			return nil, fmt.Errorf("asset is required")
		}
		if len(nd.Parameters) == 0 {
			return nil, fmt.Errorf("at least one parameter is required")
		}
		spec := &ActionSpec{Action: nd.Action, Asset: nd.Asset}
		seen := map[string]struct{}{}
		for _, pd := range nd.Parameters {
			if _, dup := seen[pd.Name]; dup {
				return nil, fmt.Errorf("parameter %q declared more than once", pd.Name)
			}
			seen[pd.Name] = struct{}{}
			path, err := store.ParsePath(pd.Path)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", pd.Name, err)
			}
			spec.Parameters = append(spec.Parameters, Parameter{Name: pd.Name, Path: path})
		}
		node.Action = spec
		node.Next = nd.Next

	case TypeFilter:
		if len(nd.Next) > 0 {
			return nil, fmt.Errorf("filter successors belong to branches, not next")
		}
		if len(nd.Branches) == 0 {
			return nil, fmt.Errorf("at least one branch is required")
		}
		spec := &FilterSpec{}
		seen := map[string]struct{}{}
		for _, bd := range nd.Branches {
			b, err := buildBranch(bd)
			if err != nil {
				return nil, fmt.Errorf("branch %q: %w", bd.Name, err)
			}
			spec.Branches = append(spec.Branches, b)
			for _, next := range b.Next {
				if _, ok := seen[next]; !ok {
					seen[next] = struct{}{}
					node.Next = append(node.Next, next)
				}
			}
		}
		node.Filter = spec

	case TypePrompt:
		if strings.TrimSpace(nd.Message) == "" {
			return nil, fmt.Errorf("message is required")
		}
		spec := &PromptSpec{
			User:      nd.User,
			Message:   nd.Message,
			Questions: nd.Responses,
			Timeout:   nd.RespondIn,
		}
		for _, pd := range nd.Parameters {
			path, err := store.ParsePath(pd.Path)
			if err != nil {
				return nil, fmt.Errorf("message parameter: %w", err)
			}
			spec.Parameters = append(spec.Parameters, path)
		}
		for i, q := range spec.Questions {
			switch q.Type {
			case models.ResponseMessage:
			case models.ResponseList:
				if len(q.Choices) == 0 {
					return nil, fmt.Errorf("response %d: list requires choices", i+1)
				}
			default:
				return nil, fmt.Errorf("response %d: unknown type %q", i+1, q.Type)
			}
		}
		if spec.Timeout <= 0 {
			return nil, fmt.Errorf("timeout must be positive")
		}
		for _, idx := range Placeholders(spec.Message) {
			if idx >= len(spec.Parameters) {
				return nil, fmt.Errorf("message placeholder {%d} has no parameter", idx)
			}
		}
		node.Prompt = spec
		node.Next = nd.Next

	case TypeJoin:
		if len(nd.WaitFor) == 0 {
			return nil, fmt.Errorf("wait_for is required")
		}
		if len(nd.Next) != 1 {
			return nil, fmt.Errorf("join must have exactly one successor (has %d)", len(nd.Next))
		}
		node.Join = &JoinSpec{WaitFor: nd.WaitFor, SkipWhenAllSkipped: nd.SkipWhenAllSkipped}
		node.Next = nd.Next

	default:
		return nil, fmt.Errorf("unknown node type %q", nd.Type)
	}
	return node, nil
}

func buildBranch(bd BranchDef) (Branch, error) {
	logic := strings.ToLower(strings.TrimSpace(bd.Logic))
	if logic == "" {
		logic = LogicAnd
	}
	if logic != LogicAnd && logic != LogicOr {
		return Branch{}, fmt.Errorf("unknown logic %q", bd.Logic)
	}
	if len(bd.Conditions) == 0 {
		return Branch{}, fmt.Errorf("at least one condition is required")
	}
	b := Branch{Name: bd.Name, Logic: logic, Next: bd.Next}
	for _, cd := range bd.Conditions {
		path, err := store.ParsePath(cd.Path)
		if err != nil {
			return Branch{}, err
		}
		var c condition.Condition
		if strings.TrimSpace(cd.When) != "" {
			c, err = condition.NewExpr(path, cd.When)
		} else {
			c, err = condition.New(path, cd.Op, cd.Value)
		}
		if err != nil {
			return Branch{}, err
		}
		b.Conditions = append(b.Conditions, c)
	}
	return b, nil
}

func (p *Playbook) validate() error {
	var errs []error

	for _, n := range p.nodes {
		for _, next := range n.Next {
			if next == n.Name {
				errs = append(errs, fmt.Errorf("node %q: lists itself as a successor", n.Name))
				continue
			}
			if _, ok := p.byName[next]; !ok {
				errs = append(errs, fmt.Errorf("node %q: successor %q is not declared", n.Name, next))
				continue
			}
			p.preds[next] = append(p.preds[next], n.Name)
		}
		for _, path := range referencedPaths(n) {
			if path.Node == "" {
				continue
			}
			if _, ok := p.byName[path.Node]; !ok {
				errs = append(errs, fmt.Errorf("node %q: datapath %q references undeclared node %q", n.Name, path, path.Node))
			}
		}
	}

	for _, n := range p.nodes {
		preds := p.preds[n.Name]
		if n.Type != TypeJoin {
			if len(preds) > 1 {
				sort.Strings(preds)
				errs = append(errs, fmt.Errorf("node %q: has %d predecessors %v; converge them through a join", n.Name, len(preds), preds))
			}
			continue
		}

		waitSet := make(map[string]struct{}, len(n.Join.WaitFor))
		for _, up := range n.Join.WaitFor {
			if _, dup := waitSet[up]; dup {
				errs = append(errs, fmt.Errorf("join %q: upstream %q listed more than once", n.Name, up))
				continue
			}
			waitSet[up] = struct{}{}
			if _, ok := p.byName[up]; !ok {
				errs = append(errs, fmt.Errorf("join %q: upstream %q is not declared", n.Name, up))
			}
		}
		predSet := make(map[string]struct{}, len(preds))
		for _, pr := range preds {
			predSet[pr] = struct{}{}
			if _, ok := waitSet[pr]; !ok {
				errs = append(errs, fmt.Errorf("join %q: predecessor %q is missing from wait_for", n.Name, pr))
			}
		}
		for _, up := range n.Join.WaitFor {
			if _, ok := p.byName[up]; !ok {
				continue
			}
			if _, ok := predSet[up]; !ok {
				errs = append(errs, fmt.Errorf("join %q: upstream %q does not list the join as a successor", n.Name, up))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, n := range p.nodes {
		if len(p.preds[n.Name]) == 0 {
			p.entries = append(p.entries, n.Name)
		}
	}
	if len(p.entries) == 0 {
		return fmt.Errorf("playbook %q has no entry node", p.Name)
	}
	if unreachable := p.unreachableNodes(); len(unreachable) > 0 {
		sort.Strings(unreachable)
		return fmt.Errorf("playbook %q contains unreachable node(s): %v", p.Name, unreachable)
	}
	if p.hasCycle() {
		return fmt.Errorf("playbook %q contains a cycle", p.Name)
	}
	return nil
}

func referencedPaths(n *Node) []store.Path {
	var out []store.Path
	switch n.Type {
	case TypeAction:
		for _, prm := range n.Action.Parameters {
			out = append(out, prm.Path)
		}
	case TypeFilter:
		for _, b := range n.Filter.Branches {
			for _, c := range b.Conditions {
				out = append(out, c.Path)
			}
		}
	case TypePrompt:
		out = append(out, n.Prompt.Parameters...)
	}
	return out
}

func (p *Playbook) unreachableNodes() []string {
	visited := map[string]bool{}
	var dfs func(name string)
	dfs = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, next := range p.byName[name].Next {
			dfs(next)
		}
	}
	for _, e := range p.entries {
		dfs(e)
	}

	var out []string
	for _, n := range p.nodes {
		if !visited[n.Name] {
			out = append(out, n.Name)
		}
	}
	return out
}

func (p *Playbook) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.nodes))

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		for _, next := range p.byName[name].Next {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[name] = black
		return false
	}

	for _, n := range p.nodes {
		if color[n.Name] == white && visit(n.Name) {
			return true
		}
	}
	return false
}
