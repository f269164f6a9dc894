package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"soarbook/pkg/models"
)

type sliceSource struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (s *sliceSource) Pop(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.payloads) > 0 {
		p := s.payloads[0]
		s.payloads = s.payloads[1:]
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (s *sliceSource) Requeue(_ context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append([][]byte{payload}, s.payloads...)
	return nil
}

func (s *sliceSource) pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.payloads {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, c *models.Container) (*models.Summary, error) {
	return &models.Summary{ContainerID: c.ID, Playbook: "echo"}, nil
}

type recordingWriter struct {
	mu       sync.Mutex
	failures int
	batches  [][]*models.Summary
	closed   bool
}

func (w *recordingWriter) WriteSummaries(s []*models.Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("sink unavailable")
	}
	w.batches = append(w.batches, append([]*models.Summary(nil), s...))
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func (w *recordingWriter) containerIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []string
	for _, b := range w.batches {
		for _, s := range b {
			ids = append(ids, s.ContainerID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestPipelineRunsEveryValidContainer(t *testing.T) {
	src := &sliceSource{payloads: [][]byte{
		[]byte(`{"id":"c-1","artifacts":[]}`),
		[]byte(`not json`),
		[]byte(`{"id":"c-2","artifacts":[{"id":"a1","cef":{}}]}`),
		[]byte(`{"id":"c-3"}`),
	}}
	w := &recordingWriter{failures: 1}
	p := NewRedisPlaybookPipeline(src, echoRunner{}, w, 2, 2, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(w.containerIDs()) < 3 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("timed out waiting for summaries, got %v", w.containerIDs())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not stop")
	}

	if diff := cmp.Diff([]string{"c-1", "c-2", "c-3"}, w.containerIDs()); diff != "" {
		t.Fatalf("written containers mismatch (-want +got):\n%s", diff)
	}
	stats := p.Stats()
	if stats.Received != 4 || stats.Invalid != 1 || stats.Runs != 3 || stats.Written != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !w.closed || !src.closed {
		t.Fatalf("expected writer and source to be closed")
	}
}

// blockingRunner holds every run until the pipeline is cancelled.
type blockingRunner struct {
	started chan string
}

func (r blockingRunner) Run(ctx context.Context, c *models.Container) (*models.Summary, error) {
	r.started <- c.ID
	<-ctx.Done()
	return &models.Summary{ContainerID: c.ID, Playbook: "blocking"}, nil
}

func TestPipelineRequeuesUnstartedContainersOnShutdown(t *testing.T) {
	src := &sliceSource{payloads: [][]byte{
		[]byte(`{"id":"c-1"}`),
		[]byte(`{"id":"c-2"}`),
		[]byte(`{"id":"c-3"}`),
	}}
	w := &recordingWriter{}
	runner := blockingRunner{started: make(chan string, 3)}
	p := NewRedisPlaybookPipeline(src, runner, w, 1, 10, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case id := <-runner.started:
		if id != "c-1" {
			t.Fatalf("expected c-1 to start first, got %s", id)
		}
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("no run started")
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(src.pending()) > 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("reader never drained the source")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not stop")
	}

	if diff := cmp.Diff([]string{`{"id":"c-2"}`, `{"id":"c-3"}`}, src.pending()); diff != "" {
		t.Fatalf("requeued containers mismatch (-want +got):\n%s", diff)
	}
	if len(runner.started) != 0 {
		t.Fatalf("expected no runs after cancellation, got %d", len(runner.started))
	}
	stats := p.Stats()
	if stats.Runs != 1 || stats.Requeued != 2 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if diff := cmp.Diff([]string{"c-1"}, w.containerIDs()); diff != "" {
		t.Fatalf("written containers mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiWriterContinuesPastFailingSink(t *testing.T) {
	bad := &recordingWriter{failures: 1}
	good := &recordingWriter{}
	m := MultiWriter{bad, good}

	err := m.WriteSummaries([]*models.Summary{{ContainerID: "c-1"}})
	if err == nil {
		t.Fatalf("expected joined error from failing sink")
	}
	if diff := cmp.Diff([]string{"c-1"}, good.containerIDs()); diff != "" {
		t.Fatalf("healthy sink mismatch (-want +got):\n%s", diff)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !bad.closed || !good.closed {
		t.Fatalf("expected both sinks closed")
	}
}
