package container

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"soarbook/pkg/models"
)

func TestParseFlatContainer(t *testing.T) {
	doc := `{
		"id": 42,
		"name": "Suspicious download",
		"severity": "high",
		"artifacts": [
			{"id": 7, "name": "file", "cef": {"fileHashSha256": "abc123", "cs6": "vault-1"}},
			{"name": "url", "cef_data": {"requestURL": "http://bad.example/login"}}
		]
	}`

	got, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &models.Container{
		ID:       "42",
		Name:     "Suspicious download",
		Severity: "high",
		Artifacts: []*models.Artifact{
			{ID: "7", Name: "file", CEF: map[string]interface{}{"fileHashSha256": "abc123", "cs6": "vault-1"}},
			{ID: "42-2", Name: "url", CEF: map[string]interface{}{"requestURL": "http://bad.example/login"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("container mismatch (-want +got):\n%s", diff)
	}
}

func TestParseWrappedContainer(t *testing.T) {
	doc := `{"container": {"container_id": "c-9", "label": "phishing"},
		"artifacts": [{"artifact_id": "a1", "cef": {"requestURL": "http://x"}}]}`

	got, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ID != "c-9" || got.Label != "phishing" {
		t.Fatalf("unexpected container header: %+v", got)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].ID != "a1" {
		t.Fatalf("expected artifact a1, got %+v", got.Artifacts)
	}
	if v := got.Artifacts[0].Field("cef.requestURL"); v != "http://x" {
		t.Fatalf("expected requestURL http://x, got %q", v)
	}
}

func TestParseRejectsBadArtifacts(t *testing.T) {
	cases := map[string]string{
		"not a list":    `{"id": "c", "artifacts": {"a": 1}}`,
		"not an object": `{"id": "c", "artifacts": ["x"]}`,
		"duplicate id":  `{"id": "c", "artifacts": [{"id": "a"}, {"id": "a"}]}`,
		"bad json":      `{"id": `,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseAssignsMissingContainerID(t *testing.T) {
	got, err := Parse([]byte(`{"artifacts": []}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.ID == "" {
		t.Fatalf("expected generated container id")
	}
}
