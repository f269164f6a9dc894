package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"soarbook/pkg/models"
)

var yesNo = models.PromptQuestion{Type: models.ResponseList, Choices: []string{"Yes", "No"}}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		questions []models.PromptQuestion
		answers   []string
		want      []string
		wantErr   bool
	}{
		{name: "choice case folded", questions: []models.PromptQuestion{yesNo}, answers: []string{" yes "}, want: []string{"Yes"}},
		{name: "message kept", questions: []models.PromptQuestion{{Type: models.ResponseMessage}}, answers: []string{"looked at it"}, want: []string{"looked at it"}},
		{name: "mixed", questions: []models.PromptQuestion{{Type: models.ResponseMessage}, yesNo}, answers: []string{"ok", "NO"}, want: []string{"ok", "No"}},
		{name: "unknown choice", questions: []models.PromptQuestion{yesNo}, answers: []string{"maybe"}, wantErr: true},
		{name: "missing answer", questions: []models.PromptQuestion{yesNo, yesNo}, answers: []string{"Yes"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.questions, tt.answers)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAnswer) {
					t.Fatalf("expected ErrInvalidAnswer, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("answers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConsoleReasksOnBadChoice(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("perhaps\nno\n"), &out)

	resp, err := c.Ask(context.Background(), &models.PromptRequest{
		ID:        "r1",
		Node:      "prompt_3",
		User:      "admin",
		Message:   "Block Hash?\n7",
		Questions: []models.PromptQuestion{yesNo},
		Deadline:  time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if diff := cmp.Diff([]string{"no"}, resp.Answers); diff != "" {
		t.Fatalf("answers mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(out.String(), "Block Hash?") {
		t.Fatalf("expected message to be printed, got %q", out.String())
	}
	if !strings.Contains(out.String(), "please answer one of Yes/No") {
		t.Fatalf("expected re-ask hint, got %q", out.String())
	}
}

func TestConsoleTimesOut(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := NewConsole(r, &bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Ask(ctx, &models.PromptRequest{ID: "r1", Node: "prompt_7", Questions: []models.PromptQuestion{{Type: models.ResponseMessage}}})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestScriptedUnknownNodeTimesOut(t *testing.T) {
	s := NewScripted(map[string][]string{"prompt_5": {"Yes"}}, 0)

	resp, err := s.Ask(context.Background(), &models.PromptRequest{ID: "a", Node: "prompt_5"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.RequestID != "a" || resp.Answers[0] != "Yes" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.Ask(ctx, &models.PromptRequest{ID: "b", Node: "prompt_3"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := len(s.Asked()); got != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", got)
	}
}
