// Package prompt delivers analyst questions and collects their answers.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"soarbook/pkg/models"
)

var (
	// ErrTimeout is returned when no answer arrived before the request deadline.
	ErrTimeout = errors.New("prompt timed out")
	// ErrInvalidAnswer is returned when an answer does not fit its question.
	ErrInvalidAnswer = errors.New("invalid answer")
)

// Prompter asks one question set and blocks until it is answered, the
// request deadline passes or ctx is done.
type Prompter interface {
	Ask(ctx context.Context, req *models.PromptRequest) (*models.PromptResponse, error)
}

// Normalize checks answers against the questions. List answers are matched
// case-insensitively and rewritten to the declared choice.
func Normalize(questions []models.PromptQuestion, answers []string) ([]string, error) {
	if len(answers) != len(questions) {
		return nil, fmt.Errorf("%w: expected %d answer(s), got %d", ErrInvalidAnswer, len(questions), len(answers))
	}
	out := make([]string, len(answers))
	for i, q := range questions {
		a := strings.TrimSpace(answers[i])
		if q.Type != models.ResponseList {
			out[i] = a
			continue
		}
		choice, ok := matchChoice(q.Choices, a)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not one of %v", ErrInvalidAnswer, a, q.Choices)
		}
		out[i] = choice
	}
	return out, nil
}

func matchChoice(choices []string, answer string) (string, bool) {
	for _, c := range choices {
		if strings.EqualFold(c, answer) {
			return c, true
		}
	}
	return "", false
}

// deadlineErr maps a finished context to the prompt error it stands for.
func deadlineErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
