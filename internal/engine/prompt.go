package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"soarbook/internal/playbook"
	"soarbook/internal/prompt"
	"soarbook/internal/store"
	"soarbook/pkg/models"
)

func (r *run) startPrompt(ctx context.Context, node *playbook.Node, scope store.Scope) {
	spec := node.Prompt
	values := make([]string, len(spec.Parameters))
	for i, p := range spec.Parameters {
		values[i] = joinValues(r.store.Resolve(p, scope))
	}

	req := &models.PromptRequest{
		ID:          r.d.newID(),
		RunID:       r.id,
		ContainerID: r.container.ID,
		Node:        node.Name,
		User:        spec.User,
		Message:     playbook.Render(spec.Message, values),
		Questions:   spec.Questions,
		Deadline:    r.d.now().Add(spec.Timeout),
	}
	r.log.Infof("Prompt %s sent to %s (request %s, timeout %s)", node.Name, req.User, req.ID, spec.Timeout)
	r.dispatch(func() completion {
		return r.ask(ctx, node, req)
	})
}

func (r *run) ask(ctx context.Context, node *playbook.Node, req *models.PromptRequest) completion {
	askCtx, cancel := context.WithTimeout(ctx, node.Prompt.Timeout)
	defer cancel()

	resp, err := r.d.prompter.Ask(askCtx, req)

	res := models.NodeResult{
		Node:   node.Name,
		Status: models.ResultFailed,
		Parameter: map[string]interface{}{
			"request_id": req.ID,
			"user":       req.User,
			"message":    req.Message,
		},
		Timestamp: r.d.now(),
	}
	ev := completion{node: node.Name, status: models.StatusFailed}

	switch {
	case err == nil && resp == nil:
		ev.reason = fmt.Errorf("%w: empty response", ErrInvalidResponse)
	case err == nil:
		answers, nerr := prompt.Normalize(node.Prompt.Questions, resp.Answers)
		if nerr != nil {
			ev.reason = fmt.Errorf("%w: %v", ErrInvalidResponse, nerr)
			break
		}
		rows := make([]map[string]interface{}, len(answers))
		responses := make([]interface{}, len(answers))
		for i, a := range answers {
			rows[i] = map[string]interface{}{"response": a, "responder": resp.Responder}
			responses[i] = a
		}
		res.Status = models.ResultSuccess
		res.Message = "answered by " + resp.Responder
		res.Data = rows
		res.Summary = map[string]interface{}{
			"responses": responses,
			"responder": resp.Responder,
		}
		ev.status = models.StatusSucceeded
	case ctx.Err() != nil:
		ev.reason = ErrCancelled
	case errors.Is(err, prompt.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		ev.reason = fmt.Errorf("%w after %s", ErrPromptTimedOut, node.Prompt.Timeout)
	default:
		ev.reason = fmt.Errorf("ask %s: %w", req.User, err)
	}

	if ev.reason != nil {
		res.Message = ev.reason.Error()
	}
	ev.results = []models.NodeResult{res}
	return ev
}

// joinValues renders resolved values for a placeholder: distinct, non-empty,
// in resolution order.
func joinValues(values []store.Value) string {
	seen := make(map[string]struct{}, len(values))
	parts := make([]string, 0, len(values))
	for _, v := range values {
		s := models.FormatValue(v.Value)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
