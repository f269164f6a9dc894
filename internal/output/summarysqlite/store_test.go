package summarysqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"soarbook/pkg/models"
)

func summaryAt(id string, done time.Time) *models.Summary {
	return &models.Summary{
		RunID:       id,
		ContainerID: "c-" + id,
		Playbook:    "recon",
		StartedAt:   done.Add(-time.Second),
		CompletedAt: done,
		Counts:      models.SummaryCounts{Succeeded: 1, Skipped: 1},
		Nodes: []models.NodeSummary{
			{Node: "file_reputation_1", Type: "action", Status: models.StatusSucceeded, Duration: 20 * time.Millisecond},
			{Node: "prompt_5", Type: "prompt", Status: models.StatusSkipped, Reason: "not triggered"},
		},
	}
}

func TestStoreWriteAndList(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "db", "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	old := summaryAt("r-old", base.Add(-time.Hour))
	recent := summaryAt("r-new", base.Add(time.Minute))
	if err := s.WriteSummaries([]*models.Summary{old, recent}); err != nil {
		t.Fatalf("write: %v", err)
	}
	recent.Counts.Failed = 1
	if err := s.WriteSummaries([]*models.Summary{recent}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	ctx := context.Background()
	got, err := s.ListSince(ctx, base, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "r-new" {
		t.Fatalf("expected only r-new, got %d runs", len(got))
	}
	if got[0].Counts.Failed != 1 {
		t.Fatalf("expected rewritten counts, got %+v", got[0].Counts)
	}

	all, err := s.ListSince(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].RunID != "r-new" {
		t.Fatalf("expected newest first, got %d runs", len(all))
	}

	one, err := s.Get(ctx, "r-old")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(old.Nodes, one.Nodes); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}
	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected error for unknown run")
	}

	var nodes int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM playbook_nodes`).Scan(&nodes); err != nil {
		t.Fatalf("count nodes: %v", err)
	}
	if nodes != 4 {
		t.Fatalf("expected 4 node rows, got %d", nodes)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(" "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
