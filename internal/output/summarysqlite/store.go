// Package summarysqlite keeps a local audit database of playbook runs.
package summarysqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"soarbook/internal/logger"
	"soarbook/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

const defaultLimit = 100

// Store writes summaries to SQLite and reads them back.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable wal: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Infof("Summary SQLite store initialized: %s", path)
	return &Store{db: db}, nil
}

// WriteSummaries stores a batch in one transaction. Rewriting a run replaces it.
func (s *Store) WriteSummaries(summaries []*models.Summary) error {
	if len(summaries) == 0 {
		return nil
	}
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const runQ = `
INSERT OR REPLACE INTO playbook_runs (
  run_id, container_id, playbook, started_at, completed_at, succeeded, failed, skipped, summary
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	const nodeQ = `
INSERT OR REPLACE INTO playbook_nodes (
  run_id, node, node_type, status, reason, duration_ms, results
) VALUES (?, ?, ?, ?, ?, ?, ?);
`
	for _, sum := range summaries {
		if sum == nil {
			continue
		}
		raw, err := json.Marshal(sum)
		if err != nil {
			return fmt.Errorf("failed to encode summary %s: %w", sum.RunID, err)
		}
		if _, err := tx.ExecContext(ctx, runQ,
			sum.RunID,
			sum.ContainerID,
			sum.Playbook,
			sum.StartedAt.UTC().Format(time.RFC3339Nano),
			sum.CompletedAt.UTC().Format(time.RFC3339Nano),
			sum.Counts.Succeeded,
			sum.Counts.Failed,
			sum.Counts.Skipped,
			string(raw),
		); err != nil {
			return fmt.Errorf("failed to save run %s: %w", sum.RunID, err)
		}
		for _, n := range sum.Nodes {
			if _, err := tx.ExecContext(ctx, nodeQ,
				sum.RunID,
				n.Node,
				n.Type,
				string(n.Status),
				n.Reason,
				n.Duration.Milliseconds(),
				len(n.Results),
			); err != nil {
				return fmt.Errorf("failed to save node %s/%s: %w", sum.RunID, n.Node, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summaries: %w", err)
	}
	return nil
}

// Get returns one stored summary.
func (s *Store) Get(ctx context.Context, runID string) (*models.Summary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM playbook_runs WHERE run_id = ?;`, runID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var out models.Summary
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &out, nil
}

// ListSince returns runs completed at or after since, newest first.
func (s *Store) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.Summary, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	const q = `
SELECT summary FROM playbook_runs
WHERE completed_at >= ?
ORDER BY completed_at DESC
LIMIT ?;
`
	rows, err := s.db.QueryContext(ctx, q, since.UTC().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Summary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var sum models.Summary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
