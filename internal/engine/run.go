package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"soarbook/internal/logger"
	"soarbook/internal/playbook"
	"soarbook/internal/store"
	"soarbook/pkg/models"
)

type nodeState struct {
	status   models.NodeStatus
	reason   error
	scope    store.Scope
	started  time.Time
	finished time.Time
	span     trace.Span
}

// completion is a settled node. Workers send completions to the event loop,
// which alone writes to the store and advances the graph.
type completion struct {
	node    string
	status  models.NodeStatus
	reason  error
	results []models.NodeResult
	// routes maps successor name to scope. Nil means every successor
	// inherits the node's scope.
	routes map[string]store.Scope
}

type run struct {
	d         *Driver
	pb        *playbook.Playbook
	ctx       context.Context
	id        string
	container *models.Container
	store     *store.Store
	states    map[string]*nodeState
	barriers  map[string]*Barrier
	events    chan completion
	inflight  int
	started   time.Time
	log       logger.Scoped
}

func (d *Driver) newRun(container *models.Container) *run {
	pb := d.playbook
	r := &run{
		d:         d,
		pb:        pb,
		ctx:       context.Background(),
		id:        d.newID(),
		container: container,
		store:     store.New(container),
		states:    make(map[string]*nodeState, len(pb.Nodes())),
		barriers:  make(map[string]*Barrier),
		events:    make(chan completion, len(pb.Nodes())),
		started:   d.now(),
	}
	r.log = logger.With("run", r.id, "container", container.ID, "playbook", pb.Name)
	for _, n := range pb.Nodes() {
		r.states[n.Name] = &nodeState{status: models.StatusPending}
		if n.Type == playbook.TypeJoin {
			r.barriers[n.Name] = NewBarrier(n.Join.WaitFor)
		}
	}
	return r
}

func (r *run) execute() *models.Summary {
	r.log.Infof("Playbook run started (%d artifact(s))", len(r.container.Artifacts))

	for _, name := range r.pb.Entries() {
		r.trigger(name, nil)
	}
	for r.inflight > 0 {
		ev := <-r.events
		r.inflight--
		r.complete(ev)
	}
	r.sweep()

	summary := r.summary()
	r.log.Infof("Playbook run finished: %d succeeded, %d failed, %d skipped",
		summary.Counts.Succeeded, summary.Counts.Failed, summary.Counts.Skipped)
	return summary
}

// trigger starts a pending node. A node that already left pending is never
// started again.
func (r *run) trigger(name string, scope store.Scope) {
	st := r.states[name]
	if st == nil || st.status != models.StatusPending {
		return
	}
	node, _ := r.pb.Node(name)

	st.status = models.StatusRunning
	st.scope = scope
	st.started = r.d.now()
	ctx, span := r.d.tracer.Start(r.ctx, "node "+name, trace.WithAttributes(
		attribute.String("soarbook.node", name),
		attribute.String("soarbook.node_type", string(node.Type)),
	))
	st.span = span
	r.log.Debugf("Node %s started (scope %s)", name, scopeString(scope))

	if r.ctx.Err() != nil {
		r.complete(completion{node: name, status: models.StatusFailed, reason: ErrCancelled})
		return
	}

	switch node.Type {
	case playbook.TypeAction:
		r.startAction(ctx, node, scope)
	case playbook.TypePrompt:
		r.startPrompt(ctx, node, scope)
	case playbook.TypeFilter:
		r.complete(r.evaluateFilter(node, scope))
	case playbook.TypeJoin:
		r.complete(completion{node: name, status: models.StatusSucceeded})
	}
}

// dispatch runs work off the event loop and feeds its completion back.
func (r *run) dispatch(work func() completion) {
	r.inflight++
	go func() {
		r.events <- work()
	}()
}

func (r *run) complete(ev completion) {
	st := r.states[ev.node]
	if st == nil {
		return
	}
	if st.status.Terminal() {
		r.log.Warnf("Ignoring repeated completion of node %s", ev.node)
		return
	}

	for _, res := range ev.results {
		if !r.store.Put(res) {
			r.log.Warnf("Dropped duplicate result %s/%s/%d", res.Node, res.ArtifactID, res.Seq)
		}
	}

	st.status = ev.status
	st.reason = ev.reason
	st.finished = r.d.now()
	if st.span != nil {
		if ev.reason != nil {
			st.span.RecordError(ev.reason)
			st.span.SetStatus(codes.Error, ev.reason.Error())
		}
		st.span.SetAttributes(attribute.Int("soarbook.results", len(ev.results)))
		st.span.End()
	}

	node, _ := r.pb.Node(ev.node)
	r.observeNode(node, st)
	if ev.reason != nil {
		r.log.Warnf("Node %s %s: %v", ev.node, ev.status, ev.reason)
	} else {
		r.log.Debugf("Node %s %s with %d result(s)", ev.node, ev.status, len(ev.results))
	}

	r.route(node, st, ev)
	r.arrive(node.Name)
}

// route triggers the successors a completion selects and skips the rest.
// Join successors are reached through their barrier instead.
func (r *run) route(node *playbook.Node, st *nodeState, ev completion) {
	routes := ev.routes
	if routes == nil && ev.status == models.StatusSucceeded {
		routes = make(map[string]store.Scope, len(node.Next))
		for _, next := range node.Next {
			routes[next] = st.scope
		}
	}

	for _, next := range node.Next {
		target, _ := r.pb.Node(next)
		if target.Type == playbook.TypeJoin {
			continue
		}
		if scope, ok := routes[next]; ok {
			r.trigger(next, scope)
			continue
		}
		switch {
		case ev.status != models.StatusSucceeded:
			r.skip(next, fmt.Errorf("%w: upstream %s %s", ErrNotTriggered, node.Name, ev.status))
		case node.Type == playbook.TypeFilter:
			r.skip(next, fmt.Errorf("%w at %s", ErrConditionUnmatched, node.Name))
		default:
			r.skip(next, fmt.Errorf("%w by %s", ErrNotTriggered, node.Name))
		}
	}
}

// skip marks a node that will never run and propagates to its descendants.
func (r *run) skip(name string, reason error) {
	st := r.states[name]
	if st == nil || st.status != models.StatusPending {
		return
	}
	st.status = models.StatusSkipped
	st.reason = reason
	node, _ := r.pb.Node(name)
	r.observeNode(node, st)
	r.log.Debugf("Node %s skipped: %v", name, reason)

	for _, next := range node.Next {
		target, _ := r.pb.Node(next)
		if target.Type == playbook.TypeJoin {
			continue
		}
		r.skip(next, fmt.Errorf("%w: upstream %s skipped", ErrNotTriggered, name))
	}
	r.arrive(name)
}

// arrive notifies every join tracking upstream. Skipped upstreams count as
// settled; a join only skips when it opts in and none of its upstreams ran.
func (r *run) arrive(upstream string) {
	for _, name := range r.pb.JoinsWaitingOn(upstream) {
		if !r.barriers[name].Arrive(upstream) {
			continue
		}
		join, _ := r.pb.Node(name)
		if join.Join.SkipWhenAllSkipped && r.allSkipped(join.Join.WaitFor) {
			r.skip(name, fmt.Errorf("%w: every upstream of %s was skipped", ErrNotTriggered, name))
			continue
		}
		r.log.Debugf("Join %s released", name)
		r.trigger(name, nil)
	}
}

func (r *run) allSkipped(names []string) bool {
	for _, n := range names {
		if r.states[n].status != models.StatusSkipped {
			return false
		}
	}
	return true
}

// sweep closes out nodes left pending. Validation guarantees reachability, so
// anything found here is logged.
func (r *run) sweep() {
	for _, n := range r.pb.Nodes() {
		st := r.states[n.Name]
		if st.status.Terminal() {
			continue
		}
		r.log.Warnf("Node %s still %s at end of run", n.Name, st.status)
		if st.status == models.StatusRunning {
			st.status = models.StatusFailed
			st.reason = ErrCancelled
			st.finished = r.d.now()
			continue
		}
		st.status = models.StatusSkipped
		st.reason = ErrNotTriggered
	}
}

func (r *run) observeNode(node *playbook.Node, st *nodeState) {
	var d time.Duration
	if !st.started.IsZero() {
		d = st.finished.Sub(st.started)
	}
	for _, o := range r.d.observers {
		o.ObserveNode(r.pb.Name, node.Name, string(node.Type), st.status, d)
	}
}

func (r *run) summary() *models.Summary {
	s := &models.Summary{
		RunID:       r.id,
		ContainerID: r.container.ID,
		Playbook:    r.pb.Name,
		StartedAt:   r.started,
		CompletedAt: r.d.now(),
	}
	for _, n := range r.pb.Nodes() {
		st := r.states[n.Name]
		ns := models.NodeSummary{
			Node:    n.Name,
			Type:    string(n.Type),
			Status:  st.status,
			Results: r.store.Results(n.Name),
		}
		if st.reason != nil {
			ns.Reason = st.reason.Error()
		}
		if !st.started.IsZero() && !st.finished.IsZero() {
			ns.Duration = st.finished.Sub(st.started)
		}
		switch st.status {
		case models.StatusSucceeded:
			s.Counts.Succeeded++
		case models.StatusFailed:
			s.Counts.Failed++
		case models.StatusSkipped:
			s.Counts.Skipped++
		}
		s.Nodes = append(s.Nodes, ns)
	}
	return s
}

func scopeString(scope store.Scope) string {
	if scope == nil {
		return "container"
	}
	return fmt.Sprintf("%v", scope.IDs())
}
