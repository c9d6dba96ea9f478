package plugins

import (
	"context"
	"errors"
	"os"
	"testing"
)

type fakePlugin struct {
	meta  Metadata
	reqs  []Requirement
	files map[string]string
	err   error
}

func (f fakePlugin) Metadata() Metadata          { return f.meta }
func (f fakePlugin) Requirements() []Requirement { return f.reqs }
func (f fakePlugin) Validate(kwargs Kwargs) error {
	return ValidateRequirements(f.reqs, kwargs)
}
func (f fakePlugin) Run(ctx context.Context, sources, cwd string, kwargs Kwargs) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.files, nil
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	p := fakePlugin{meta: Metadata{PluginID: "semgrep"}}
	if err := r.Register(p); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(p); !errors.Is(err, ErrDuplicatePlugin) {
		t.Fatalf("second register = %v, want ErrDuplicatePlugin", err)
	}
}

func TestNeedsFullGitHistoryAggregation(t *testing.T) {
	r := NewRegistry()
	r.Register(fakePlugin{meta: Metadata{PluginID: "semgrep"}})
	r.Register(fakePlugin{
		meta: Metadata{PluginID: "trufflehog"},
		reqs: []Requirement{{Name: RequireFullGitHistory, Required: true}},
	})
	if r.NeedsFullGitHistory([]string{"semgrep"}) {
		t.Error("semgrep alone should not need full history")
	}
	if !r.NeedsFullGitHistory([]string{"semgrep", "trufflehog"}) {
		t.Error("expected full history needed when trufflehog selected")
	}
}

func TestValidateFailsOnFirstFailingPlugin(t *testing.T) {
	r := NewRegistry()
	r.Register(fakePlugin{
		meta: Metadata{PluginID: "semgrep"},
		reqs: []Requirement{{Name: RequireRulesDir, Required: true}},
	})
	err := r.Validate([]string{"semgrep"}, Kwargs{})
	if !errors.Is(err, ErrRequirementUnmet) {
		t.Fatalf("err = %v, want ErrRequirementUnmet", err)
	}
}

func TestRunGatesInvalidSarif(t *testing.T) {
	dir := t.TempDir()
	validPath := dir + "/valid.sarif"
	invalidPath := dir + "/invalid.sarif"
	os.WriteFile(validPath, []byte(`{"$schema":"s","version":"2.1.0","runs":[{"tool":{"driver":{"name":"semgrep"}},"results":[{"message":{"text":"x"},"locations":[{"physicalLocation":{"artifactLocation":{"uri":"a.go"}}}]}]}]}`), 0o644)
	os.WriteFile(invalidPath, []byte(`{"version":"2.1.0","runs":[]}`), 0o644)

	r := NewRegistry()
	r.Register(fakePlugin{
		meta:  Metadata{PluginID: "semgrep"},
		files: map[string]string{"rule-a": validPath, "rule-b": invalidPath},
	})

	docs, err := r.Run(context.Background(), "semgrep", dir, dir, Kwargs{}, os.ReadFile)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1 (invalid rule dropped)", len(docs))
	}
	if _, ok := docs["rule-a"]; !ok {
		t.Errorf("expected rule-a to survive gating")
	}
	gsast := docs["rule-a"].Runs[0].Tool.Driver.Properties["gsast"].(map[string]interface{})
	if gsast["pluginId"] != "semgrep" {
		t.Errorf("pluginId not stamped: %+v", gsast)
	}
}

func TestRunEmptyFindingsNotAnError(t *testing.T) {
	r := NewRegistry()
	r.Register(fakePlugin{meta: Metadata{PluginID: "semgrep"}, files: nil})
	docs, err := r.Run(context.Background(), "semgrep", "/tmp", "/tmp", Kwargs{}, os.ReadFile)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if docs != nil {
		t.Errorf("docs = %v, want nil", docs)
	}
}
