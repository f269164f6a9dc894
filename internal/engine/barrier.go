package engine

import (
	"sort"
	"sync"
)

// Barrier tracks a fixed set of upstream names and opens exactly once, when
// the last of them arrives. It is safe for concurrent use.
type Barrier struct {
	mu      sync.Mutex
	tracked map[string]struct{}
	arrived map[string]struct{}
	fired   bool
}

// NewBarrier creates a barrier over the given upstreams.
func NewBarrier(upstreams []string) *Barrier {
	b := &Barrier{
		tracked: make(map[string]struct{}, len(upstreams)),
		arrived: make(map[string]struct{}, len(upstreams)),
	}
	for _, up := range upstreams {
		b.tracked[up] = struct{}{}
	}
	return b
}

// Arrive records that an upstream reached a terminal state. It returns true
// for exactly one call: the one that completes the set. Repeated or untracked
// arrivals are ignored.
func (b *Barrier) Arrive(upstream string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fired {
		return false
	}
	if _, ok := b.tracked[upstream]; !ok {
		return false
	}
	b.arrived[upstream] = struct{}{}
	if len(b.arrived) < len(b.tracked) {
		return false
	}
	b.fired = true
	return true
}

// Fired reports whether the barrier has opened.
func (b *Barrier) Fired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fired
}

// Pending lists the upstreams that have not arrived yet.
func (b *Barrier) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for up := range b.tracked {
		if _, ok := b.arrived[up]; !ok {
			out = append(out, up)
		}
	}
	sort.Strings(out)
	return out
}
