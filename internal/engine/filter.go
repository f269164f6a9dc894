package engine

import (
	"sort"
	"strings"

	"soarbook/internal/playbook"
	"soarbook/internal/store"
	"soarbook/pkg/models"
)

// matchSet holds matched artifact IDs. The empty ID stands for a
// container-scoped match and admits every artifact.
type matchSet map[string]struct{}

func (m matchSet) wholeContainer() bool {
	_, ok := m[""]
	return ok
}

func (m matchSet) ids() []string {
	out := make([]string, 0, len(m))
	for id := range m {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m matchSet) scope() store.Scope {
	if m.wholeContainer() {
		return nil
	}
	return store.NewScope(m.ids()...)
}

func intersect(a, b matchSet) matchSet {
	if a.wholeContainer() {
		return b
	}
	if b.wholeContainer() {
		return a
	}
	out := matchSet{}
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func union(a, b matchSet) matchSet {
	out := make(matchSet, len(a)+len(b))
	for id := range a {
		out[id] = struct{}{}
	}
	for id := range b {
		out[id] = struct{}{}
	}
	return out
}

// evaluateFilter runs every branch independently. Each matched branch routes
// its successors with the matched subset as their scope.
func (r *run) evaluateFilter(node *playbook.Node, scope store.Scope) completion {
	routes := make(map[string]store.Scope)
	var rows []map[string]interface{}
	var problems []string

	for _, b := range node.Filter.Branches {
		matched, errs := r.matchBranch(b, scope)
		problems = append(problems, errs...)

		ids := matched.ids()
		artifacts := make([]interface{}, len(ids))
		for i, id := range ids {
			artifacts[i] = id
		}
		rows = append(rows, map[string]interface{}{
			"branch":    b.Name,
			"matched":   len(matched) > 0,
			"artifacts": artifacts,
		})
		if len(matched) == 0 {
			r.log.Debugf("Filter %s branch %s matched nothing", node.Name, b.Name)
			continue
		}
		r.log.Debugf("Filter %s branch %s matched %v", node.Name, b.Name, ids)

		next := matched.scope()
		for _, succ := range b.Next {
			prev, seen := routes[succ]
			switch {
			case !seen:
				routes[succ] = next
			case prev == nil || next == nil:
				routes[succ] = nil
			default:
				routes[succ] = store.Scope(union(matchSet(prev), matchSet(next)))
			}
		}
	}

	res := models.NodeResult{
		Node:      node.Name,
		Status:    models.ResultSuccess,
		Data:      rows,
		Timestamp: r.d.now(),
	}
	if len(problems) > 0 {
		res.Message = strings.Join(problems, "; ")
		r.log.Warnf("Filter %s: %s", node.Name, res.Message)
	}
	return completion{
		node:    node.Name,
		status:  models.StatusSucceeded,
		results: []models.NodeResult{res},
		routes:  routes,
	}
}

func (r *run) matchBranch(b playbook.Branch, scope store.Scope) (matchSet, []string) {
	var acc matchSet
	var problems []string
	for i, c := range b.Conditions {
		set := matchSet{}
		for _, v := range r.store.Resolve(c.Path, scope) {
			ok, err := c.Match(v)
			if err != nil {
				problems = append(problems, err.Error())
				continue
			}
			if ok {
				set[v.ArtifactID] = struct{}{}
			}
		}
		switch {
		case i == 0:
			acc = set
		case b.Logic == playbook.LogicOr:
			acc = union(acc, set)
		default:
			acc = intersect(acc, set)
		}
	}
	return acc, problems
}
