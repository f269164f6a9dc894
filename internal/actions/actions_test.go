package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"soarbook/pkg/models"
)

func TestRegistryInvoke(t *testing.T) {
	reg := NewRegistry()
	static := NewStatic([]Fixture{{Action: "file reputation", Data: []map[string]interface{}{{"positives": 7}}}})
	if err := reg.Register("virustotal_api", static); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("virustotal_api", static); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := reg.Register(" ", static); err == nil {
		t.Fatalf("expected empty asset name to fail")
	}

	out, err := reg.Invoke(context.Background(), "virustotal_api", "file reputation", map[string]interface{}{"hash": "abc123"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Data[0]["positives"] != 7 {
		t.Fatalf("unexpected output: %+v", out)
	}

	_, err = reg.Invoke(context.Background(), "phishtank", "url reputation", nil)
	if !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if diff := cmp.Diff([]string{"virustotal_api"}, reg.Assets()); diff != "" {
		t.Fatalf("assets mismatch (-want +got):\n%s", diff)
	}
}

func TestStaticFixtures(t *testing.T) {
	s := NewStatic([]Fixture{
		{Action: "file reputation", Match: map[string]string{"hash": "abc123"}, Data: []map[string]interface{}{{"response_code": 0, "positives": 7}}},
		{Action: "file reputation", Match: map[string]string{"hash": "broken"}, Fail: "quota exceeded"},
		{Action: "file reputation", Data: []map[string]interface{}{{"response_code": 1, "positives": 0}}},
	})

	out, err := s.Run(context.Background(), "File Reputation", map[string]interface{}{"hash": "abc123"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Data[0]["positives"] != 7 {
		t.Fatalf("expected matching fixture, got %+v", out.Data)
	}
	out.Data[0]["positives"] = 0
	again, _ := s.Run(context.Background(), "file reputation", map[string]interface{}{"hash": "abc123"})
	if again.Data[0]["positives"] != 7 {
		t.Fatalf("fixture data was mutated through a previous result")
	}

	if _, err := s.Run(context.Background(), "file reputation", map[string]interface{}{"hash": "broken"}); err == nil || err.Error() != "quota exceeded" {
		t.Fatalf("expected fixture failure, got %v", err)
	}

	out, err = s.Run(context.Background(), "file reputation", map[string]interface{}{"hash": "other"})
	if err != nil || out.Data[0]["response_code"] != 1 {
		t.Fatalf("expected catch-all fixture, got %+v, %v", out, err)
	}

	if _, err := s.Run(context.Background(), "detonate file", nil); !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("expected ErrUnsupportedAction, got %v", err)
	}
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vt.yml")
	doc := `
fixtures:
  - action: detonate file
    match:
      vault_id: vault-1
    message: detonated
    data:
      - positives: 6
        scan:
          engine: sandbox
    summary:
      positives: 6
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	s, err := LoadStatic(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := s.Run(context.Background(), "detonate file", map[string]interface{}{"vault_id": "vault-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Message != "detonated" || out.Summary["positives"] != 6 {
		t.Fatalf("unexpected output: %+v", out)
	}
	if got, ok := models.Dig(out.Data[0], []string{"scan", "engine"}); !ok || got != "sandbox" {
		t.Fatalf("expected nested fixture data, got %v", got)
	}

	bad := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(bad, []byte("fixtures:\n  - message: no action\n"), 0o644); err != nil {
		t.Fatalf("write fixtures: %v", err)
	}
	if _, err := LoadStatic(bad); err == nil {
		t.Fatalf("expected missing action to be rejected")
	}
}

func TestHTTPConnector(t *testing.T) {
	var got httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got.Parameters["url"] == "http://fail.example" {
			_ = json.NewEncoder(w).Encode(httpResponse{Status: "failed", Message: "lookup refused"})
			return
		}
		_ = json.NewEncoder(w).Encode(httpResponse{
			Status:  "success",
			Message: "1 result",
			Data:    []map[string]interface{}{{"in_database": true, "phish_id": "42"}},
			Summary: map[string]interface{}{"positives": 1},
		})
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{Asset: "phishtank", URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer token"}})
	if err != nil {
		t.Fatalf("new http connector: %v", err)
	}

	out, err := h.Run(context.Background(), "url reputation", map[string]interface{}{"url": "http://bad.example"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Asset != "phishtank" || got.Action != "url reputation" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if out.Data[0]["phish_id"] != "42" || out.Summary["positives"] != float64(1) {
		t.Fatalf("unexpected output: %+v", out)
	}

	_, err = h.Run(context.Background(), "url reputation", map[string]interface{}{"url": "http://fail.example"})
	if err == nil || !strings.Contains(err.Error(), "lookup refused") {
		t.Fatalf("expected integration failure, got %v", err)
	}

	unauth, _ := NewHTTP(HTTPConfig{Asset: "phishtank", URL: srv.URL})
	if _, err := unauth.Run(context.Background(), "url reputation", nil); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status error, got %v", err)
	}

	if _, err := NewHTTP(HTTPConfig{}); err == nil {
		t.Fatalf("expected empty URL to be rejected")
	}
}

const badHashRule = `
title: Known bad sample hash
id: sb-0001
status: test
logsource:
  category: file_reputation
detection:
  selection:
    hash:
      - abc123
      - def456
  condition: selection
level: high
tags:
  - attack.execution
  - attack.t1204.002
`

const phishURLRule = `
title: Credential phishing path
id: sb-0002
logsource:
  category: url_reputation
detection:
  selection:
    url|contains: /login/verify
  condition: selection
level: medium
`

const burstRule = `
title: Burst of lookups
id: sb-0003
logsource:
  category: file_reputation
detection:
  selection:
    hash: abc123
  condition: selection | count() > 5
level: low
`

func TestRulesConnector(t *testing.T) {
	r, stats := NewRulesFromYAML([]byte(badHashRule), []byte(phishURLRule), []byte(burstRule), []byte("not: [valid"))
	if stats.Loaded != 2 || stats.SkippedComplex != 1 || stats.SkippedInvalid != 1 {
		t.Fatalf("unexpected load stats: %+v", stats)
	}

	out, err := r.Run(context.Background(), "file reputation", map[string]interface{}{"hash": "abc123"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	row := out.Data[0]
	if row["positives"] != 1 || row["highest_level"] != "high" {
		t.Fatalf("unexpected aggregate row: %+v", row)
	}
	matches := row["matches"].([]map[string]interface{})
	if matches[0]["rule_id"] != "sb-0001" || matches[0]["technique"] != "T1204/002" || matches[0]["tactic"] != "execution" {
		t.Fatalf("unexpected match: %+v", matches[0])
	}

	out, err = r.Run(context.Background(), "url reputation", map[string]interface{}{"url": "http://example.test/login/verify?id=1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Data[0]["positives"] != 1 || out.Summary["highest_level"] != "medium" {
		t.Fatalf("expected url rule hit, got %+v", out.Data[0])
	}

	out, err = r.Run(context.Background(), "file reputation", map[string]interface{}{"hash": "clean"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Data[0]["positives"] != 0 {
		t.Fatalf("expected no hits, got %+v", out.Data[0])
	}
}

func TestNewRulesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hash.yml"), []byte(badHashRule), 0o644); err != nil {
		t.Fatalf("write rule: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}
	_, stats, err := NewRules(dir)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if stats.TotalFiles != 1 || stats.Loaded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFlattenParams(t *testing.T) {
	got := flattenParams(map[string]interface{}{
		"hash": "abc123",
		"cef":  map[string]interface{}{"requestURL": "http://x", "fileHashSha256": "abc123"},
	})
	want := map[string]interface{}{
		"hash":               "abc123",
		"requestURL":         "http://x",
		"fileHashSha256":     "abc123",
		"cef.requestURL":     "http://x",
		"cef.fileHashSha256": "abc123",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("flatten mismatch (-want +got):\n%s", diff)
	}
}
