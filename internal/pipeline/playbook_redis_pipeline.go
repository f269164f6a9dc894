// Package pipeline runs queued containers through a playbook and batches the
// resulting summaries to output sinks.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"soarbook/internal/logger"
	"soarbook/internal/transform/container"
	"soarbook/pkg/models"
)

// Source yields raw container documents. Pop returns nil, nil when nothing
// arrived within its own wait window. Requeue returns a popped document that
// was never run to the front of the source.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
	Requeue(ctx context.Context, payload []byte) error
	Close() error
}

// Runner executes a playbook against one container.
type Runner interface {
	Run(ctx context.Context, c *models.Container) (*models.Summary, error)
}

// Stats counts pipeline outcomes.
type Stats struct {
	Received int64 `json:"received"`
	Invalid  int64 `json:"invalid"`
	Runs     int64 `json:"runs"`
	Written  int64 `json:"written"`
	Dropped  int64 `json:"dropped"`
	Requeued int64 `json:"requeued"`
}

// RedisPlaybookPipeline consumes queued containers and writes run summaries.
type RedisPlaybookPipeline struct {
	source        Source
	runner        Runner
	writer        SummaryWriter
	workers       int
	batchSize     int
	flushInterval time.Duration

	received atomic.Int64
	invalid  atomic.Int64
	runs     atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
	requeued atomic.Int64
}

// NewRedisPlaybookPipeline creates a pipeline. workers bounds the number of
// concurrent playbook runs.
func NewRedisPlaybookPipeline(source Source, runner Runner, writer SummaryWriter, workers, batchSize int, flushInterval time.Duration) *RedisPlaybookPipeline {
	return &RedisPlaybookPipeline{
		source:        source,
		runner:        runner,
		writer:        writer,
		workers:       workers,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Run starts the pipeline loop. It returns after ctx is cancelled and every
// in-flight run has finished and been flushed.
func (p *RedisPlaybookPipeline) Run(ctx context.Context) error {
	logger.Infof("Redis playbook pipeline started")

	if p.workers <= 0 {
		p.workers = 4
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	if p.flushInterval <= 0 {
		p.flushInterval = 2 * time.Second
	}

	msgCh := make(chan []byte, p.workers)
	workCh := make(chan *models.Summary, p.workers*4)

	go func() {
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, msgCh, workCh)
		}()
	}
	go func() {
		wg.Wait()
		close(workCh)
	}()

	p.writeLoop(ctx, workCh)
	logger.Infof("Redis playbook pipeline stopped: %+v", p.Stats())
	return ctx.Err()
}

// Stats returns a snapshot of the pipeline counters.
func (p *RedisPlaybookPipeline) Stats() Stats {
	return Stats{
		Received: p.received.Load(),
		Invalid:  p.invalid.Load(),
		Runs:     p.runs.Load(),
		Written:  p.written.Load(),
		Dropped:  p.dropped.Load(),
		Requeued: p.requeued.Load(),
	}
}

// Close releases pipeline resources.
func (p *RedisPlaybookPipeline) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close summary writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *RedisPlaybookPipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for ctx.Err() == nil {
		payload, err := p.source.Pop(ctx)
		if ctx.Err() != nil {
			if payload != nil {
				p.received.Add(1)
				p.requeue(payload)
			}
			return
		}
		if err != nil {
			logger.Errorf("Failed to pop container: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if payload == nil {
			continue
		}
		p.received.Add(1)
		select {
		case out <- payload:
		case <-ctx.Done():
			p.requeue(payload)
			return
		}
	}
}

// requeue hands an unstarted container back to the source. ctx is already
// cancelled here, so the write gets its own deadline.
func (p *RedisPlaybookPipeline) requeue(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.source.Requeue(ctx, payload); err != nil {
		p.dropped.Add(1)
		logger.Errorf("Failed to requeue container on shutdown: %v", err)
		return
	}
	p.requeued.Add(1)
}

func (p *RedisPlaybookPipeline) workerLoop(ctx context.Context, in <-chan []byte, out chan<- *models.Summary) {
	for payload := range in {
		if ctx.Err() != nil {
			p.requeue(payload)
			continue
		}
		c, err := container.Parse(payload)
		if err != nil {
			p.invalid.Add(1)
			logger.Warnf("Failed to parse container: %v", err)
			continue
		}

		summary, err := p.runner.Run(ctx, c)
		if err != nil {
			logger.Errorf("Playbook run failed for container %s: %v", c.ID, err)
			continue
		}
		p.runs.Add(1)
		out <- summary
	}
}

func (p *RedisPlaybookPipeline) writeLoop(ctx context.Context, in <-chan *models.Summary) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var batch []*models.Summary

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for {
			err := p.writer.WriteSummaries(batch)
			if err == nil {
				p.written.Add(int64(len(batch)))
				batch = nil
				return
			}
			logger.Errorf("Failed to write summaries: %v", err)
			if ctx.Err() != nil {
				p.dropped.Add(int64(len(batch)))
				logger.Errorf("Dropping %d summaries on shutdown", len(batch))
				batch = nil
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(1 * time.Second):
			}
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case s, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
			if len(batch) >= p.batchSize {
				flush()
			}
		}
	}
}
