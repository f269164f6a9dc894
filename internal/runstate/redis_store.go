// Package runstate keeps a Redis index of recent playbook runs for operators.
package runstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"soarbook/pkg/models"
)

// RedisConfig configures Redis access for run-state persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RunState is the compact record kept per run.
type RunState struct {
	RunID       string    `json:"run_id"`
	ContainerID string    `json:"container_id"`
	Playbook    string    `json:"playbook"`
	Succeeded   int64     `json:"succeeded"`
	Failed      int64     `json:"failed"`
	Skipped     int64     `json:"skipped"`
	FailedNodes []string  `json:"failed_nodes,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// RedisStore indexes run summaries by completion time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed run-state store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "soarbook:runs"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis run-state: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), ttl: cfg.TTL}, nil
}

// WriteSummaries records each run and indexes it by completion time.
func (s *RedisStore) WriteSummaries(summaries []*models.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	ctx := context.Background()
	pipe := s.client.Pipeline()

	for _, sum := range summaries {
		if sum == nil || sum.RunID == "" {
			continue
		}
		st := FromSummary(sum)
		failed, _ := json.Marshal(st.FailedNodes)

		key := s.runKey(st.RunID)
		pipe.HSet(ctx, key,
			"container_id", st.ContainerID,
			"playbook", st.Playbook,
			"succeeded", strconv.FormatInt(st.Succeeded, 10),
			"failed", strconv.FormatInt(st.Failed, 10),
			"skipped", strconv.FormatInt(st.Skipped, 10),
			"failed_nodes", string(failed),
			"completed_at", strconv.FormatInt(st.CompletedAt.UnixMilli(), 10),
		)
		pipe.Expire(ctx, key, s.ttl)
		pipe.ZAdd(ctx, s.recentSetKey(), redis.Z{Score: float64(st.CompletedAt.Unix()), Member: st.RunID})
		pipe.ZAdd(ctx, s.containerSetKey(st.ContainerID), redis.Z{Score: float64(st.CompletedAt.Unix()), Member: st.RunID})
		pipe.Expire(ctx, s.containerSetKey(st.ContainerID), s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update run-state redis keys: %w", err)
	}
	return nil
}

// FetchRecent returns runs completed since the given time, oldest first.
// Index entries whose record has expired are pruned.
func (s *RedisStore) FetchRecent(ctx context.Context, since time.Time, limit int64) ([]RunState, error) {
	if limit <= 0 {
		limit = 1000
	}
	ids, err := s.client.ZRangeByScore(ctx, s.recentSetKey(), &redis.ZRangeBy{
		Min:    fmt.Sprintf("%d", since.Unix()),
		Max:    "+inf",
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent runs: %w", err)
	}
	return s.load(ctx, s.recentSetKey(), ids)
}

// FetchContainer returns the recorded runs for one container, oldest first.
func (s *RedisStore) FetchContainer(ctx context.Context, containerID string) ([]RunState, error) {
	key := s.containerSetKey(containerID)
	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read container runs: %w", err)
	}
	return s.load(ctx, key, ids)
}

func (s *RedisStore) load(ctx context.Context, index string, ids []string) ([]RunState, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	states := make([]RunState, 0, len(ids))
	var stale []interface{}
	for _, id := range ids {
		hash, err := s.client.HGetAll(ctx, s.runKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("read run %s: %w", id, err)
		}
		if len(hash) == 0 {
			stale = append(stale, id)
			continue
		}
		states = append(states, decodeState(id, hash))
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, index, stale...)
	}
	return states, nil
}

// FromSummary derives the compact record of a run.
func FromSummary(sum *models.Summary) RunState {
	st := RunState{
		RunID:       sum.RunID,
		ContainerID: sum.ContainerID,
		Playbook:    sum.Playbook,
		Succeeded:   int64(sum.Counts.Succeeded),
		Failed:      int64(sum.Counts.Failed),
		Skipped:     int64(sum.Counts.Skipped),
		CompletedAt: sum.CompletedAt.UTC(),
	}
	for _, n := range sum.Nodes {
		if n.Status == models.StatusFailed {
			st.FailedNodes = append(st.FailedNodes, n.Node)
		}
	}
	return st
}

func decodeState(id string, hash map[string]string) RunState {
	st := RunState{
		RunID:       id,
		ContainerID: hash["container_id"],
		Playbook:    hash["playbook"],
	}
	st.Succeeded, _ = strconv.ParseInt(hash["succeeded"], 10, 64)
	st.Failed, _ = strconv.ParseInt(hash["failed"], 10, 64)
	st.Skipped, _ = strconv.ParseInt(hash["skipped"], 10, 64)
	if raw := hash["failed_nodes"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &st.FailedNodes)
	}
	if ms, err := strconv.ParseInt(hash["completed_at"], 10, 64); err == nil && ms > 0 {
		st.CompletedAt = time.UnixMilli(ms).UTC()
	}
	return st
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) runKey(id string) string {
	return s.prefix + ":run:" + id
}

func (s *RedisStore) recentSetKey() string {
	return s.prefix + ":recent"
}

func (s *RedisStore) containerSetKey(containerID string) string {
	return s.prefix + ":container:" + containerID
}
