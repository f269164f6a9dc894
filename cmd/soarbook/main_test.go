package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"soarbook/config"
	"soarbook/internal/engine"
	"soarbook/internal/playbook"
	"soarbook/internal/prompt"
	"soarbook/internal/transform/container"
	"soarbook/pkg/models"
)

// repoConfig loads the shipped soarbook.yml with paths rebased onto the
// repository root.
func repoConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("../../soarbook.yml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	applyDefaults(cfg)
	sb := &cfg.Soarbook
	sb.Playbook.Path = filepath.Join("../..", sb.Playbook.Path)
	for i := range sb.Assets {
		if sb.Assets[i].Fixtures != "" {
			sb.Assets[i].Fixtures = filepath.Join("../..", sb.Assets[i].Fixtures)
		}
		if sb.Assets[i].Rules != "" {
			sb.Assets[i].Rules = filepath.Join("../..", sb.Assets[i].Rules)
		}
	}
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &config.Config{}
	applyDefaults(cfg)
	sb := cfg.Soarbook
	if sb.Input.Redis.Key != "soarbook:containers" || sb.Pipeline.Workers != 4 {
		t.Fatalf("unexpected input/pipeline defaults: %+v %+v", sb.Input.Redis, sb.Pipeline)
	}
	if sb.Prompts.Mode != "redis" || sb.Prompts.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("unexpected prompt defaults: %+v", sb.Prompts)
	}
	if diff := cmp.Diff([]string{"file"}, sb.Output.Sinks); diff != "" {
		t.Fatalf("sinks mismatch (-want +got):\n%s", diff)
	}
	if sb.Playbook.ActionConcurrency != 8 {
		t.Fatalf("expected action concurrency 8, got %d", sb.Playbook.ActionConcurrency)
	}
}

func TestBuildRegistryFromShippedConfig(t *testing.T) {
	cfg := repoConfig(t)
	reg, err := buildRegistry(cfg.Soarbook.Assets)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	defer reg.Close()
	if diff := cmp.Diff([]string{"local_sigma", "phishtank", "virustotal_api"}, reg.Assets()); diff != "" {
		t.Fatalf("assets mismatch (-want +got):\n%s", diff)
	}

	out, err := reg.Invoke(context.Background(), "local_sigma", "scan", map[string]interface{}{"url": "http://x.test/login/verify"})
	if err != nil {
		t.Fatalf("invoke rules: %v", err)
	}
	if out.Summary["positives"] != 1 {
		t.Fatalf("expected one rule match, got %v", out.Summary)
	}
}

func TestBuildRegistryRejectsUnknownType(t *testing.T) {
	_, err := buildRegistry([]config.AssetConfig{{Name: "x", Type: "carrier-pigeon"}})
	if err == nil {
		t.Fatalf("expected error for unknown asset type")
	}
}

func TestBuildWriters(t *testing.T) {
	dir := t.TempDir()
	out := config.OutputConfig{
		Sinks:  []string{"file", "sqlite"},
		File:   config.FileOutputConfig{Path: filepath.Join(dir, "runs.jsonl")},
		SQLite: config.SQLiteOutputConfig{Path: filepath.Join(dir, "soarbook.db")},
	}
	w, err := buildWriters(out)
	if err != nil {
		t.Fatalf("build writers: %v", err)
	}
	if len(w) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(w))
	}
	if err := w.WriteSummaries([]*models.Summary{{RunID: "r-1", CompletedAt: time.Now()}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if info, err := os.Stat(out.File.Path); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty jsonl file, err=%v", err)
	}

	if _, err := buildWriters(config.OutputConfig{Sinks: []string{"tape"}}); err == nil {
		t.Fatalf("expected error for unknown sink")
	}
}

func TestShippedPlaybookAgainstSampleContainer(t *testing.T) {
	cfg := repoConfig(t)
	reg, err := buildRegistry(cfg.Soarbook.Assets)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	pb, err := playbook.Load(cfg.Soarbook.Playbook.Path)
	if err != nil {
		t.Fatalf("load playbook: %v", err)
	}
	raw, err := os.ReadFile("../../examples/container.json")
	if err != nil {
		t.Fatalf("read container: %v", err)
	}
	c, err := container.Parse(raw)
	if err != nil {
		t.Fatalf("parse container: %v", err)
	}

	answers := prompt.NewScripted(map[string][]string{
		"prompt_3": {"yes"},
		"prompt_4": {"Yes"},
		"prompt_6": {"Yes"},
		"prompt_8": {"reviewed"},
		"prompt_5": {"Yes"},
	}, 0)
	d, err := engine.New(pb, engine.WithInvoker(reg), engine.WithPrompter(answers))
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := d.Run(ctx, c)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := map[string]models.NodeStatus{
		"file_reputation_1": models.StatusSucceeded,
		"detonate_file_2":   models.StatusSucceeded,
		"prompt_3":          models.StatusSucceeded,
		"prompt_4":          models.StatusSucceeded,
		"url_reputation_2":  models.StatusSucceeded,
		"prompt_8":          models.StatusSucceeded,
		"prompt_6":          models.StatusSucceeded,
		"detonate_url_2":    models.StatusSkipped,
		"prompt_7":          models.StatusSkipped,
		"join_prompt_5":     models.StatusSucceeded,
		"prompt_5":          models.StatusSucceeded,
		"filter_9":          models.StatusSucceeded,
	}
	for node, status := range want {
		got, ok := summary.Node(node)
		if !ok {
			t.Fatalf("node %s missing from summary", node)
		}
		if got.Status != status {
			t.Fatalf("node %s: expected %s, got %s (%s)", node, status, got.Status, got.Reason)
		}
	}
	if summary.Counts.Failed != 0 {
		t.Fatalf("expected no failed nodes, got %+v", summary.Counts)
	}
}
