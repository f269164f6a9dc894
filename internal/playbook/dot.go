package playbook

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

var plainID = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var nodeShapes = map[NodeType]string{
	TypeAction: "box",
	TypeFilter: "diamond",
	TypePrompt: "note",
	TypeJoin:   "circle",
}

// ToDOT renders the playbook graph in Graphviz DOT format. Filter edges carry
// the branch conditions as labels; join edges from tracked upstreams are dashed.
func (p *Playbook) ToDOT() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotID(p.Name)); err != nil {
		return "", fmt.Errorf("set graph name: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("set graph direction: %w", err)
	}
	graphName := dotID(p.Name)
	if err := g.AddAttr(graphName, "rankdir", "LR"); err != nil {
		return "", fmt.Errorf("set graph attribute: %w", err)
	}

	for _, n := range p.nodes {
		attrs := map[string]string{
			"shape": nodeShapes[n.Type],
			"label": strconv.Quote(nodeLabel(n)),
		}
		if err := g.AddNode(graphName, dotID(n.Name), attrs); err != nil {
			return "", fmt.Errorf("add node %q: %w", n.Name, err)
		}
	}

	for _, n := range p.nodes {
		switch n.Type {
		case TypeFilter:
			for _, b := range n.Filter.Branches {
				label := strconv.Quote(branchLabel(b))
				for _, next := range b.Next {
					if err := g.AddEdge(dotID(n.Name), dotID(next), true, map[string]string{"label": label}); err != nil {
						return "", fmt.Errorf("add edge %s->%s: %w", n.Name, next, err)
					}
				}
			}
		default:
			attrs := map[string]string{}
			if p.isJoinUpstream(n.Name) {
				attrs["style"] = "dashed"
			}
			for _, next := range n.Next {
				if err := g.AddEdge(dotID(n.Name), dotID(next), true, attrs); err != nil {
					return "", fmt.Errorf("add edge %s->%s: %w", n.Name, next, err)
				}
			}
		}
	}

	return g.String(), nil
}

func (p *Playbook) isJoinUpstream(name string) bool {
	return len(p.JoinsWaitingOn(name)) > 0
}

func nodeLabel(n *Node) string {
	switch n.Type {
	case TypeAction:
		return fmt.Sprintf("%s\n%s @ %s", n.Name, n.Action.Action, n.Action.Asset)
	case TypePrompt:
		return fmt.Sprintf("%s\nask %s", n.Name, n.Prompt.User)
	case TypeJoin:
		return fmt.Sprintf("%s\nall of %d", n.Name, len(n.Join.WaitFor))
	}
	return n.Name
}

func branchLabel(b Branch) string {
	parts := make([]string, 0, len(b.Conditions))
	for _, c := range b.Conditions {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " "+b.Logic+" ")
}

func dotID(name string) string {
	if plainID.MatchString(name) {
		return name
	}
	return strconv.Quote(name)
}
