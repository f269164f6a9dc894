package prompt

import (
	"context"
	"sync"
	"time"

	"soarbook/pkg/models"
)

// Scripted answers prompts from a fixed table keyed by node name. Nodes
// without an entry are never answered and time out.
type Scripted struct {
	mu        sync.Mutex
	answers   map[string][]string
	delay     time.Duration
	responder string
	asked     []*models.PromptRequest
}

// NewScripted creates a scripted prompter.
func NewScripted(answers map[string][]string, delay time.Duration) *Scripted {
	return &Scripted{answers: answers, delay: delay, responder: "scripted"}
}

// Ask returns the configured answers after the configured delay.
func (s *Scripted) Ask(ctx context.Context, req *models.PromptRequest) (*models.PromptResponse, error) {
	s.mu.Lock()
	s.asked = append(s.asked, req)
	answers, ok := s.answers[req.Node]
	s.mu.Unlock()

	if !ok {
		<-ctx.Done()
		return nil, deadlineErr(ctx)
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, deadlineErr(ctx)
		}
	}

	return &models.PromptResponse{
		RequestID: req.ID,
		Responder: s.responder,
		Answers:   append([]string(nil), answers...),
		Timestamp: time.Now(),
	}, nil
}

// Asked returns the requests seen so far.
func (s *Scripted) Asked() []*models.PromptRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.PromptRequest(nil), s.asked...)
}
