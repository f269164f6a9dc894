// Package redisbroker hands prompts to analysts through Redis. Open requests
// live in a hash; each answer is pushed onto a per-request list that the
// asking engine blocks on.
package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"soarbook/internal/prompt"
	"soarbook/pkg/models"
)

// ErrUnknownRequest is returned when answering a request that is not pending.
var ErrUnknownRequest = errors.New("unknown or expired prompt request")

// Config configures the Redis prompt broker.
type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	BlockTimeout time.Duration
	ResponseTTL  time.Duration
}

// Broker implements prompt.Prompter on top of Redis.
type Broker struct {
	client       *redis.Client
	prefix       string
	blockTimeout time.Duration
	responseTTL  time.Duration
}

// New connects to Redis and returns a broker.
func New(cfg Config) (*Broker, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "soarbook:prompts"
	}
	if cfg.BlockTimeout < time.Second {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ResponseTTL <= 0 {
		cfg.ResponseTTL = time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis prompt broker: %w", err)
	}

	return &Broker{
		client:       client,
		prefix:       strings.TrimSpace(cfg.KeyPrefix),
		blockTimeout: cfg.BlockTimeout,
		responseTTL:  cfg.ResponseTTL,
	}, nil
}

// Ask publishes the request and waits for an answer until ctx is done.
func (b *Broker) Ask(ctx context.Context, req *models.PromptRequest) (*models.PromptResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode prompt request: %w", err)
	}
	if err := b.client.HSet(ctx, b.pendingKey(), req.ID, payload).Err(); err != nil {
		return nil, fmt.Errorf("publish prompt request: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.client.HDel(cleanup, b.pendingKey(), req.ID)
	}()

	for {
		if ctx.Err() != nil {
			return nil, deadlineErr(ctx)
		}
		res, err := b.client.BLPop(ctx, b.wait(ctx), b.responseKey(req.ID)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, deadlineErr(ctx)
			}
			return nil, fmt.Errorf("wait for prompt response: %w", err)
		}
		if len(res) < 2 {
			continue
		}
		var resp models.PromptResponse
		if err := json.Unmarshal([]byte(res[1]), &resp); err != nil {
			return nil, fmt.Errorf("decode prompt response: %w", err)
		}
		return &resp, nil
	}
}

// Respond answers a pending request. Answers are checked against the
// request's questions before they are delivered.
func (b *Broker) Respond(ctx context.Context, resp *models.PromptResponse) error {
	if resp == nil || strings.TrimSpace(resp.RequestID) == "" {
		return fmt.Errorf("request id is required")
	}
	raw, err := b.client.HGet(ctx, b.pendingKey(), resp.RequestID).Result()
	if err == redis.Nil {
		return ErrUnknownRequest
	}
	if err != nil {
		return fmt.Errorf("read pending prompt: %w", err)
	}
	var req models.PromptRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return fmt.Errorf("decode pending prompt: %w", err)
	}
	answers, err := prompt.Normalize(req.Questions, resp.Answers)
	if err != nil {
		return err
	}
	resp.Answers = answers
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode prompt response: %w", err)
	}
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, b.responseKey(resp.RequestID), payload)
	pipe.Expire(ctx, b.responseKey(resp.RequestID), b.responseTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deliver prompt response: %w", err)
	}
	return nil
}

// Pending lists open requests ordered by deadline.
func (b *Broker) Pending(ctx context.Context) ([]*models.PromptRequest, error) {
	hash, err := b.client.HGetAll(ctx, b.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending prompts: %w", err)
	}
	out := make([]*models.PromptRequest, 0, len(hash))
	for id, raw := range hash {
		var req models.PromptRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("decode pending prompt %s: %w", id, err)
		}
		out = append(out, &req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].ID < out[j].ID
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out, nil
}

// Close closes Redis resources.
func (b *Broker) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// wait bounds one BLPOP by the block timeout and the remaining deadline.
func (b *Broker) wait(ctx context.Context) time.Duration {
	wait := b.blockTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait = left
		}
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (b *Broker) pendingKey() string {
	return b.prefix + ":pending"
}

func (b *Broker) responseKey(id string) string {
	return b.prefix + ":response:" + id
}

func deadlineErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return prompt.ErrTimeout
	}
	return ctx.Err()
}
