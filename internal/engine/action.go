package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"soarbook/internal/playbook"
	"soarbook/internal/store"
	"soarbook/pkg/models"
)

type paramSet struct {
	artifactID string
	seq        int
	params     map[string]interface{}
}

func (r *run) startAction(ctx context.Context, node *playbook.Node, scope store.Scope) {
	sets := r.parameterSets(node.Action, scope)
	if len(sets) == 0 {
		r.log.Infof("Action %s has no parameter sets; nothing to invoke", node.Name)
		r.complete(completion{node: node.Name, status: models.StatusSucceeded})
		return
	}
	r.log.Debugf("Action %s: invoking %q on %s %d time(s)", node.Name, node.Action.Action, node.Action.Asset, len(sets))
	r.dispatch(func() completion {
		return r.invokeAll(ctx, node, sets)
	})
}

// parameterSets resolves the primary parameter within scope and joins the
// others to it by artifact. Primary values that are empty are dropped.
func (r *run) parameterSets(spec *playbook.ActionSpec, scope store.Scope) []paramSet {
	primary := spec.Parameters[0]
	others := make([][]store.Value, len(spec.Parameters))
	for i := 1; i < len(spec.Parameters); i++ {
		others[i] = r.store.Resolve(spec.Parameters[i].Path, scope)
	}

	var out []paramSet
	seqs := make(map[string]int)
	for _, v := range r.store.Resolve(primary.Path, scope) {
		if models.IsEmpty(v.Value) {
			continue
		}
		params := map[string]interface{}{primary.Name: v.Value}
		for i := 1; i < len(spec.Parameters); i++ {
			if val, ok := pick(others[i], v.ArtifactID); ok {
				params[spec.Parameters[i].Name] = val
			}
		}
		out = append(out, paramSet{artifactID: v.ArtifactID, seq: seqs[v.ArtifactID], params: params})
		seqs[v.ArtifactID]++
	}
	return out
}

// pick returns the first non-empty value of the artifact, falling back to a
// container-scoped value.
func pick(values []store.Value, artifactID string) (interface{}, bool) {
	var fallback interface{}
	found := false
	for _, v := range values {
		if models.IsEmpty(v.Value) {
			continue
		}
		if v.ArtifactID == artifactID {
			return v.Value, true
		}
		if v.ArtifactID == "" && !found {
			fallback, found = v.Value, true
		}
	}
	return fallback, found
}

func (r *run) invokeAll(ctx context.Context, node *playbook.Node, sets []paramSet) completion {
	results := make([]models.NodeResult, len(sets))

	var g errgroup.Group
	if r.d.limit > 0 {
		g.SetLimit(r.d.limit)
	}
	for i, set := range sets {
		i, set := i, set
		g.Go(func() error {
			results[i] = r.invoke(ctx, node, set)
			return nil
		})
	}
	_ = g.Wait()

	ev := completion{node: node.Name, status: models.StatusSucceeded, results: results}
	failed := 0
	for i := range results {
		if !results[i].Succeeded() {
			failed++
		}
	}
	if failed == len(results) {
		ev.status = models.StatusFailed
		if ctx.Err() != nil {
			ev.reason = ErrCancelled
		} else {
			ev.reason = fmt.Errorf("%w: %d invocation(s) failed, first: %s", ErrActionFailed, failed, results[0].Message)
		}
	}
	return ev
}

func (r *run) invoke(ctx context.Context, node *playbook.Node, set paramSet) models.NodeResult {
	spec := node.Action
	start := r.d.now()
	out, err := r.d.invoker.Invoke(ctx, spec.Asset, spec.Action, set.params)

	res := models.NodeResult{
		Node:       node.Name,
		ArtifactID: set.artifactID,
		Seq:        set.seq,
		Parameter:  set.params,
		Timestamp:  r.d.now(),
	}
	if err != nil {
		res.Status = models.ResultFailed
		res.Message = err.Error()
	} else {
		res.Status = models.ResultSuccess
		if out != nil {
			res.Message = out.Message
			res.Data = out.Data
			res.Summary = out.Summary
		}
	}

	for _, o := range r.d.observers {
		o.ObserveInvocation(spec.Asset, spec.Action, res.Status, res.Timestamp.Sub(start))
	}
	return res
}
