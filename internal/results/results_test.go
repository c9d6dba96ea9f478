package results

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/seznam/gsast-go/internal/sarif"
	"github.com/seznam/gsast-go/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.Open(mr.Addr(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.Scans)
}

func sarifWithLevel(level string) *sarif.Document {
	return &sarif.Document{
		Schema:  "s", Version: "2.1.0",
		Runs: []sarif.Run{{
			Tool: sarif.Tool{Driver: sarif.Driver{Name: "semgrep"}},
			Results: []sarif.Result{
				{Level: level, Message: sarif.Message{Text: "finding"}, Locations: []sarif.Location{
					{PhysicalLocation: sarif.PhysicalLocation{ArtifactLocation: sarif.ArtifactLocation{URI: "a.go"}}},
				}},
			},
		}},
	}
}

func TestWriteThenGetLastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", sarifWithLevel("warning")); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	if err := s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", sarifWithLevel("error")); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	res, err := s.Get(ctx, "SCAN-1", "", "", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res == nil {
		t.Fatal("get returned nil")
	}
	proj, ok := res.Projects["https://h/a.git"]
	if !ok {
		t.Fatal("project missing")
	}
	semgrep := proj.Results["semgrep"].(map[string]interface{})
	runs := semgrep["runs"].([]interface{})
	run0 := runs[0].(map[string]interface{})
	r := run0["results"].([]interface{})[0].(map[string]interface{})
	if r["level"] != "error" {
		t.Errorf("level = %v, want error (last writer wins)", r["level"])
	}
}

func TestWriteAdditiveAcrossScanners(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", sarifWithLevel("warning"))
	s.Write(ctx, "SCAN-1", "https://h/a.git", "trufflehog", sarifWithLevel("error"))

	res, err := s.Get(ctx, "SCAN-1", "", "", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	proj := res.Projects["https://h/a.git"]
	if len(proj.Results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(proj.Results))
	}
}

func TestProjectFilterSubstringMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Write(ctx, "SCAN-1", "https://h/acme/foo.git", "semgrep", sarifWithLevel("warning"))
	s.Write(ctx, "SCAN-1", "git@h:acme/foobar.git", "semgrep", sarifWithLevel("warning"))

	res, err := s.Get(ctx, "SCAN-1", "foo", "", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Projects) != 2 {
		t.Fatalf("substring filter 'foo' matched %d projects, want 2", len(res.Projects))
	}
}

func TestScannerFilterDropsEmptyProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", sarifWithLevel("warning"))

	res, err := s.Get(ctx, "SCAN-1", "", "trufflehog", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, scanner filter matched nothing: %+v", res)
	}
}

func TestPathQueryFiltersResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := &sarif.Document{
		Schema: "s", Version: "2.1.0",
		Runs: []sarif.Run{{
			Tool: sarif.Tool{Driver: sarif.Driver{Name: "semgrep"}},
			Results: []sarif.Result{
				{Level: "warning", Message: sarif.Message{Text: "w"}, Locations: []sarif.Location{{PhysicalLocation: sarif.PhysicalLocation{ArtifactLocation: sarif.ArtifactLocation{URI: "a.go"}}}}},
				{Level: "error", Message: sarif.Message{Text: "e"}, Locations: []sarif.Location{{PhysicalLocation: sarif.PhysicalLocation{ArtifactLocation: sarif.ArtifactLocation{URI: "b.go"}}}}},
			},
		}},
	}
	s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", doc)

	res, err := s.Get(ctx, "SCAN-1", "", "", `$..results[?(@.level=="warning")]`)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	matched := res.Projects["https://h/a.git"].Results["semgrep"]
	list, ok := matched.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("matched = %#v, want single-element slice", matched)
	}
}

func TestPathQueryMalformedReturnsErrorEnvelope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", sarifWithLevel("warning"))

	res, err := s.Get(ctx, "SCAN-1", "", "", `$..[?(`)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res == nil || res.Error == "" {
		t.Fatalf("expected error envelope, got %+v", res)
	}
}

func TestGetPropagatesUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Write(ctx, "SCAN-1", "https://h/a.git", "semgrep", sarifWithLevel("warning")); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := s.Get(ctx, "SCAN-1", "", "", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	proj, ok := res.Projects["https://h/a.git"]
	if !ok {
		t.Fatal("project missing")
	}
	if proj.UpdatedAt == 0 {
		t.Error("updated_at = 0, want the write timestamp")
	}
}

func TestGetEmptyProjectsReturnsNil(t *testing.T) {
	s := newTestStore(t)
	res, err := s.Get(context.Background(), "SCAN-NONE", "", "", "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil, got %+v", res)
	}
}
