package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"soarbook/internal/playbook"
	"soarbook/internal/prompt"
	"soarbook/pkg/models"
)

type call struct {
	asset  string
	action string
	params map[string]interface{}
}

type fakeInvoker struct {
	mu      sync.Mutex
	calls   []call
	respond func(action string, params map[string]interface{}) (*models.ActionOutput, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, asset, action string, params map[string]interface{}) (*models.ActionOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{asset: asset, action: action, params: params})
	f.mu.Unlock()
	if f.respond == nil {
		return &models.ActionOutput{}, nil
	}
	return f.respond(action, params)
}

func (f *fakeInvoker) callsFor(action string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.action == action {
			out = append(out, c)
		}
	}
	return out
}

// reconInvoker answers the recon playbook actions the way the reputation and
// sandbox services would for hash abc123.
func reconInvoker() *fakeInvoker {
	return &fakeInvoker{respond: func(action string, params map[string]interface{}) (*models.ActionOutput, error) {
		switch action {
		case "file reputation":
			if params["hash"] == "abc123" {
				return &models.ActionOutput{Data: []map[string]interface{}{{"response_code": 0, "positives": 7}}}, nil
			}
			return &models.ActionOutput{Data: []map[string]interface{}{{"response_code": 1, "positives": 0}}}, nil
		case "detonate file":
			return &models.ActionOutput{Data: []map[string]interface{}{{"positives": 6}}}, nil
		case "url reputation":
			return &models.ActionOutput{Data: []map[string]interface{}{{"in_database": true, "positives": 2, "response_code": 1}}}, nil
		case "detonate url":
			return &models.ActionOutput{Data: []map[string]interface{}{{"positives": 3}}}, nil
		}
		return nil, fmt.Errorf("unexpected action %q", action)
	}}
}

func loadRecon(t *testing.T) *playbook.Playbook {
	t.Helper()
	pb, err := playbook.Load("../../playbooks/recon.yml")
	if err != nil {
		t.Fatalf("load recon playbook: %v", err)
	}
	return pb
}

func mustParse(t *testing.T, doc string) *playbook.Playbook {
	t.Helper()
	pb, err := playbook.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse playbook: %v", err)
	}
	return pb
}

func mustDriver(t *testing.T, pb *playbook.Playbook, opts ...Option) *Driver {
	t.Helper()
	d, err := New(pb, opts...)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return d
}

func runWithin(t *testing.T, d *Driver, container *models.Container, limit time.Duration) *models.Summary {
	t.Helper()
	type out struct {
		s   *models.Summary
		err error
	}
	done := make(chan out, 1)
	go func() {
		s, err := d.Run(context.Background(), container)
		done <- out{s, err}
	}()
	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("run: %v", o.err)
		}
		return o.s
	case <-time.After(limit):
		t.Fatalf("run did not finish within %s", limit)
	}
	return nil
}

func assertStatus(t *testing.T, s *models.Summary, want map[string]models.NodeStatus) {
	t.Helper()
	for node, status := range want {
		ns, ok := s.Node(node)
		if !ok {
			t.Fatalf("node %s missing from summary", node)
		}
		if ns.Status != status {
			t.Fatalf("node %s: expected %s, got %s (reason %q)", node, status, ns.Status, ns.Reason)
		}
	}
}

func askedFor(s *prompt.Scripted, node string) []*models.PromptRequest {
	var out []*models.PromptRequest
	for _, req := range s.Asked() {
		if req.Node == node {
			out = append(out, req)
		}
	}
	return out
}
