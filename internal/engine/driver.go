// Package engine interprets a compiled playbook against one container.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"soarbook/internal/playbook"
	"soarbook/internal/prompt"
	"soarbook/pkg/models"
)

// Invoker runs one action against one asset.
type Invoker interface {
	Invoke(ctx context.Context, asset, action string, params map[string]interface{}) (*models.ActionOutput, error)
}

// FinishFunc receives the container and summary once a run is complete.
type FinishFunc func(container *models.Container, summary *models.Summary)

// Driver runs a playbook. One Driver may run many containers concurrently;
// each Run owns its own context store.
type Driver struct {
	playbook  *playbook.Playbook
	invoker   Invoker
	prompter  prompt.Prompter
	observers []Observer
	finish    []FinishFunc
	limit     int
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
}

// Option configures a Driver.
type Option func(*Driver)

// WithInvoker sets the action backend.
func WithInvoker(inv Invoker) Option {
	return func(d *Driver) { d.invoker = inv }
}

// WithPrompter sets the analyst prompt backend.
func WithPrompter(p prompt.Prompter) Option {
	return func(d *Driver) { d.prompter = p }
}

// WithObserver adds a telemetry observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// WithFinish adds a hook invoked once per run with the final summary.
func WithFinish(fn FinishFunc) Option {
	return func(d *Driver) {
		if fn != nil {
			d.finish = append(d.finish, fn)
		}
	}
}

// WithActionConcurrency bounds concurrent invocations per action node.
// Zero or less means unbounded.
func WithActionConcurrency(n int) Option {
	return func(d *Driver) { d.limit = n }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithIDGenerator overrides run and prompt request IDs.
func WithIDGenerator(fn func() string) Option {
	return func(d *Driver) { d.newID = fn }
}

// New creates a driver for a compiled playbook.
func New(pb *playbook.Playbook, opts ...Option) (*Driver, error) {
	if pb == nil {
		return nil, fmt.Errorf("playbook is nil")
	}
	d := &Driver{
		playbook: pb,
		limit:    8,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("soarbook/internal/engine")
	}

	for _, n := range pb.Nodes() {
		switch {
		case n.Type == playbook.TypeAction && d.invoker == nil:
			return nil, fmt.Errorf("playbook %q has action %q but no invoker is configured", pb.Name, n.Name)
		case n.Type == playbook.TypePrompt && d.prompter == nil:
			return nil, fmt.Errorf("playbook %q has prompt %q but no prompter is configured", pb.Name, n.Name)
		}
	}
	return d, nil
}

// Playbook returns the playbook the driver runs.
func (d *Driver) Playbook() *playbook.Playbook {
	return d.playbook
}

// Run executes the playbook against container and returns its summary once
// every node is terminal. Node failures are reported in the summary; the only
// error is an invalid container.
func (d *Driver) Run(ctx context.Context, container *models.Container) (*models.Summary, error) {
	if container == nil {
		return nil, fmt.Errorf("container is nil")
	}

	r := d.newRun(container)
	ctx, span := d.tracer.Start(ctx, "playbook "+d.playbook.Name, trace.WithAttributes(
		attribute.String("soarbook.run_id", r.id),
		attribute.String("soarbook.container_id", container.ID),
		attribute.Int("soarbook.artifacts", len(container.Artifacts)),
	))
	r.ctx = ctx

	summary := r.execute()

	span.SetAttributes(
		attribute.Int("soarbook.nodes.succeeded", summary.Counts.Succeeded),
		attribute.Int("soarbook.nodes.failed", summary.Counts.Failed),
		attribute.Int("soarbook.nodes.skipped", summary.Counts.Skipped),
	)
	span.End()

	for _, o := range d.observers {
		o.ObserveRun(summary)
	}
	for _, fn := range d.finish {
		fn(container, summary)
	}
	return summary, nil
}
