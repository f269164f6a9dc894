// Package store holds the per-run context: the container under investigation and
// the results recorded by completed nodes.
package store

import (
	"sort"
	"sync"

	"soarbook/pkg/models"
)

// Value is one resolved datapath value paired with the artifact that produced it.
// ArtifactID is empty for container-scoped results.
type Value struct {
	ArtifactID string
	Value      interface{}
}

// Scope restricts resolution to a set of artifact IDs. A nil Scope allows all.
type Scope map[string]struct{}

// NewScope builds a Scope from artifact IDs.
func NewScope(ids ...string) Scope {
	s := make(Scope, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Allows reports whether an artifact is visible. Container-scoped values are
// always visible.
func (s Scope) Allows(artifactID string) bool {
	if s == nil || artifactID == "" {
		return true
	}
	_, ok := s[artifactID]
	return ok
}

// IDs returns the scope members in sorted order.
func (s Scope) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type resultKey struct {
	node     string
	artifact string
	seq      int
}

// Store is the append-only context of one playbook run.
type Store struct {
	mu        sync.RWMutex
	container *models.Container
	results   map[string][]models.NodeResult
	seen      map[resultKey]struct{}
}

// New creates a store for one run over the given container.
func New(container *models.Container) *Store {
	if container == nil {
		container = &models.Container{}
	}
	return &Store{
		container: container,
		results:   make(map[string][]models.NodeResult),
		seen:      make(map[resultKey]struct{}),
	}
}

// Container returns the container under investigation.
func (s *Store) Container() *models.Container {
	return s.container
}

// Put records a result. It returns false when a result with the same node,
// artifact and sequence already exists; the existing entry is kept.
func (s *Store) Put(r models.NodeResult) bool {
	key := resultKey{node: r.Node, artifact: r.ArtifactID, seq: r.Seq}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.results[r.Node] = append(s.results[r.Node], r)
	return true
}

// Results returns a copy of the results recorded for a node.
func (s *Store) Results(node string) []models.NodeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.results[node]
	if len(src) == 0 {
		return nil
	}
	out := make([]models.NodeResult, len(src))
	copy(out, src)
	return out
}

// Resolve returns every value matching path within scope, in artifact and result
// order. Missing paths resolve to an empty slice.
func (s *Store) Resolve(p Path, scope Scope) []Value {
	if p.IsZero() {
		return nil
	}
	if p.Section == SectionArtifact {
		return s.resolveArtifacts(p, scope)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Value
	for _, r := range s.results[p.Node] {
		if !scope.Allows(r.ArtifactID) {
			continue
		}
		switch p.Section {
		case SectionData:
			for _, row := range r.Data {
				if len(p.Field) == 0 {
					out = append(out, Value{ArtifactID: r.ArtifactID, Value: row})
					continue
				}
				if v, ok := models.Dig(row, p.Field); ok {
					out = append(out, Value{ArtifactID: r.ArtifactID, Value: v})
				}
			}
		case SectionParameter:
			if v, ok := models.Dig(r.Parameter, p.Field); ok {
				out = append(out, Value{ArtifactID: r.ArtifactID, Value: v})
			}
		case SectionSummary:
			if v, ok := models.Dig(r.Summary, p.Field); ok {
				out = append(out, Value{ArtifactID: r.ArtifactID, Value: v})
			}
		case SectionStatus:
			out = append(out, Value{ArtifactID: r.ArtifactID, Value: r.Status})
		case SectionMessage:
			out = append(out, Value{ArtifactID: r.ArtifactID, Value: r.Message})
		}
	}
	return out
}

func (s *Store) resolveArtifacts(p Path, scope Scope) []Value {
	var withResults map[string]struct{}
	if p.Node != "" {
		s.mu.RLock()
		withResults = make(map[string]struct{}, len(s.results[p.Node]))
		for _, r := range s.results[p.Node] {
			if r.ArtifactID != "" {
				withResults[r.ArtifactID] = struct{}{}
			}
		}
		s.mu.RUnlock()
	}

	var out []Value
	for _, a := range s.container.Artifacts {
		if a == nil || !scope.Allows(a.ID) {
			continue
		}
		if withResults != nil {
			if _, ok := withResults[a.ID]; !ok {
				continue
			}
		}
		if v, ok := a.Lookup(p.Field); ok {
			out = append(out, Value{ArtifactID: a.ID, Value: v})
		}
	}
	return out
}

// Snapshot returns a copy of every recorded result grouped by node.
func (s *Store) Snapshot() map[string][]models.NodeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]models.NodeResult, len(s.results))
	for node, rs := range s.results {
		cp := make([]models.NodeResult, len(rs))
		copy(cp, rs)
		out[node] = cp
	}
	return out
}
