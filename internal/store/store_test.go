package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"soarbook/pkg/models"
)

func TestParsePath(t *testing.T) {
	cases := []struct {
		raw     string
		node    string
		section Section
		field   []string
	}{
		{"artifact:*.cef.fileHashSha256", "", SectionArtifact, []string{"cef", "fileHashSha256"}},
		{"file_reputation_1:artifact:*.cef.cs6", "file_reputation_1", SectionArtifact, []string{"cef", "cs6"}},
		{"file_reputation_1:action_result.data.*.positives", "file_reputation_1", SectionData, []string{"positives"}},
		{"url_reputation_2:action_result.parameter.url", "url_reputation_2", SectionParameter, []string{"url"}},
		{"url_reputation_2:action_result.status", "url_reputation_2", SectionStatus, nil},
		{"prompt_5:action_result.summary.responses.0", "prompt_5", SectionSummary, []string{"responses", "0"}},
	}
	for _, tc := range cases {
		p, err := ParsePath(tc.raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.raw, err)
		}
		if p.Node != tc.node || p.Section != tc.section {
			t.Fatalf("%s: expected node=%q section=%s, got node=%q section=%s", tc.raw, tc.node, tc.section, p.Node, p.Section)
		}
		if diff := cmp.Diff(tc.field, p.Field); diff != "" {
			t.Fatalf("%s: field mismatch (-want +got):\n%s", tc.raw, diff)
		}
		if p.String() != tc.raw {
			t.Fatalf("expected String() %q, got %q", tc.raw, p.String())
		}
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"fileHash",
		"artifact:cef.hash",
		":action_result.status",
		"node:result.data",
		"node:action_result.bogus",
		"node:action_result.summary",
		"node:action_result.data.*..x",
	} {
		if _, err := ParsePath(raw); err == nil {
			t.Fatalf("%q: expected error", raw)
		}
	}
}

func sampleContainer() *models.Container {
	return &models.Container{
		ID: "c-1",
		Artifacts: []*models.Artifact{
			{ID: "a1", CEF: map[string]interface{}{"fileHashSha256": "abc123"}},
			{ID: "a2", CEF: map[string]interface{}{"requestURL": "http://x"}},
			{ID: "a3", CEF: map[string]interface{}{"fileHashSha256": "def456"}},
		},
	}
}

func TestResolveArtifactsSkipsMissingFields(t *testing.T) {
	s := New(sampleContainer())
	got := s.Resolve(MustParsePath("artifact:*.cef.fileHashSha256"), nil)
	want := []Value{{ArtifactID: "a1", Value: "abc123"}, {ArtifactID: "a3", Value: "def456"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}

	got = s.Resolve(MustParsePath("artifact:*.cef.fileHashSha256"), NewScope("a3"))
	if len(got) != 1 || got[0].ArtifactID != "a3" {
		t.Fatalf("expected scoped value from a3, got %+v", got)
	}
}

func TestResolveNodeArtifactsFollowsResults(t *testing.T) {
	s := New(sampleContainer())
	s.Put(models.NodeResult{Node: "file_reputation_1", ArtifactID: "a3", Status: models.ResultSuccess})

	got := s.Resolve(MustParsePath("file_reputation_1:artifact:*.cef.fileHashSha256"), nil)
	if diff := cmp.Diff([]Value{{ArtifactID: "a3", Value: "def456"}}, got); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveResultSections(t *testing.T) {
	s := New(sampleContainer())
	s.Put(models.NodeResult{
		Node:       "file_reputation_1",
		ArtifactID: "a1",
		Status:     models.ResultSuccess,
		Message:    "done",
		Parameter:  map[string]interface{}{"hash": "abc123"},
		Data:       []map[string]interface{}{{"positives": 7}, {"positives": 2}},
		Summary:    map[string]interface{}{"positives": 7},
	})
	s.Put(models.NodeResult{Node: "file_reputation_1", ArtifactID: "a3", Status: models.ResultFailed})
	s.Put(models.NodeResult{Node: "prompt_5", Status: models.ResultSuccess, Summary: map[string]interface{}{"responses": []interface{}{"Yes"}}})

	positives := s.Resolve(MustParsePath("file_reputation_1:action_result.data.*.positives"), nil)
	if diff := cmp.Diff([]Value{{"a1", 7}, {"a1", 2}}, positives); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	status := s.Resolve(MustParsePath("file_reputation_1:action_result.status"), NewScope("a3"))
	if diff := cmp.Diff([]Value{{"a3", models.ResultFailed}}, status); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
	param := s.Resolve(MustParsePath("file_reputation_1:action_result.parameter.hash"), nil)
	if len(param) != 1 || param[0].Value != "abc123" {
		t.Fatalf("unexpected parameter values: %+v", param)
	}

	// Container-scoped results are visible from every scope.
	answer := s.Resolve(MustParsePath("prompt_5:action_result.summary.responses.0"), NewScope("a2"))
	if diff := cmp.Diff([]Value{{"", "Yes"}}, answer); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	if got := s.Resolve(MustParsePath("missing:action_result.status"), nil); len(got) != 0 {
		t.Fatalf("expected no values for unknown node, got %+v", got)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	s := New(nil)
	r := models.NodeResult{Node: "n", ArtifactID: "a1", Seq: 0, Status: models.ResultSuccess}
	if !s.Put(r) {
		t.Fatalf("first put should be recorded")
	}
	r.Status = models.ResultFailed
	if s.Put(r) {
		t.Fatalf("replayed put should be dropped")
	}
	got := s.Results("n")
	if len(got) != 1 || got[0].Status != models.ResultSuccess {
		t.Fatalf("expected original result kept, got %+v", got)
	}

	r.Seq = 1
	if !s.Put(r) {
		t.Fatalf("next sequence should be recorded")
	}
	snap := s.Snapshot()
	snap["n"][0].Status = "mutated"
	if s.Results("n")[0].Status != models.ResultSuccess {
		t.Fatalf("snapshot must not alias the store")
	}
}

func TestScopeIDs(t *testing.T) {
	sc := NewScope("b", "a")
	if diff := cmp.Diff([]string{"a", "b"}, sc.IDs()); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	var all Scope
	if !all.Allows("anything") || !sc.Allows("") || sc.Allows("c") {
		t.Fatalf("unexpected Allows behavior")
	}
}
