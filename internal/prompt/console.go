package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"soarbook/pkg/models"
)

// Console asks questions on a terminal. Prompts are shown one at a time; a
// list answer outside the choices is asked again.
type Console struct {
	out   io.Writer
	lines chan string
	turn  chan struct{}
	once  sync.Once
	in    io.Reader
	now   func() time.Time
}

// NewConsole creates a console prompter reading answers from in.
func NewConsole(in io.Reader, out io.Writer) *Console {
	turn := make(chan struct{}, 1)
	turn <- struct{}{}
	return &Console{
		in:    in,
		out:   out,
		lines: make(chan string),
		turn:  turn,
		now:   time.Now,
	}
}

// Ask prints the request and reads one line per question.
func (c *Console) Ask(ctx context.Context, req *models.PromptRequest) (*models.PromptResponse, error) {
	c.once.Do(c.startReader)

	select {
	case <-c.turn:
	case <-ctx.Done():
		return nil, deadlineErr(ctx)
	}
	defer func() { c.turn <- struct{}{} }()

	fmt.Fprintf(c.out, "\n[%s] prompt for %s (answer by %s)\n%s\n", req.Node, req.User, req.Deadline.Format(time.Kitchen), req.Message)

	answers := make([]string, 0, len(req.Questions))
	for i, q := range req.Questions {
		for {
			c.printQuestion(i, q)
			var line string
			select {
			case l, ok := <-c.lines:
				if !ok {
					return nil, fmt.Errorf("console input closed")
				}
				line = strings.TrimSpace(l)
			case <-ctx.Done():
				return nil, deadlineErr(ctx)
			}
			if q.Type == models.ResponseList {
				if _, ok := matchChoice(q.Choices, line); !ok {
					fmt.Fprintf(c.out, "please answer one of %s\n", strings.Join(q.Choices, "/"))
					continue
				}
			}
			answers = append(answers, line)
			break
		}
	}

	return &models.PromptResponse{
		RequestID: req.ID,
		Responder: "console",
		Answers:   answers,
		Timestamp: c.now(),
	}, nil
}

func (c *Console) printQuestion(i int, q models.PromptQuestion) {
	label := q.Prompt
	if label == "" {
		label = fmt.Sprintf("response %d", i+1)
	}
	if q.Type == models.ResponseList {
		fmt.Fprintf(c.out, "%s [%s]: ", label, strings.Join(q.Choices, "/"))
		return
	}
	fmt.Fprintf(c.out, "%s: ", label)
}

func (c *Console) startReader() {
	go func() {
		defer close(c.lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			c.lines <- sc.Text()
		}
	}()
}
