// Package redis reads queued containers from a Redis list.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the container queue.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Queue pops container documents pushed by upstream ingestion.
type Queue struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewQueue creates a list-backed container queue.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Queue{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop waits up to the block timeout for one container. It returns nil, nil
// when the queue stayed empty.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	res, err := q.client.BLPop(ctx, q.blockTimeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Push appends a container document to the queue.
func (q *Queue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push container: %w", err)
	}
	return nil
}

// Requeue puts a container back at the head of the queue so it is popped
// next.
func (q *Queue) Requeue(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("requeue container: %w", err)
	}
	return nil
}

// Len returns the number of queued containers.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close closes the queue.
func (q *Queue) Close() error {
	return q.client.Close()
}
