package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/plugins"
	"github.com/seznam/gsast-go/internal/results"
	"github.com/seznam/gsast-go/internal/rules"
	"github.com/seznam/gsast-go/internal/store"
	"github.com/seznam/gsast-go/internal/tasks"
)

// findingPlugin writes one valid SARIF document to its results dir,
// standing in for a real scanner binary.
type findingPlugin struct {
	id   string
	reqs []plugins.Requirement
}

func (p findingPlugin) Metadata() plugins.Metadata {
	return plugins.Metadata{PluginID: p.id, Name: p.id}
}
func (p findingPlugin) Requirements() []plugins.Requirement { return p.reqs }
func (p findingPlugin) Validate(kwargs plugins.Kwargs) error {
	return plugins.ValidateRequirements(p.reqs, kwargs)
}

func (p findingPlugin) Run(ctx context.Context, projectSourcesDir, scanCWD string, kwargs plugins.Kwargs) (map[string]string, error) {
	doc := `{"$schema":"https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json","version":"2.1.0","runs":[{"tool":{"driver":{"name":"` + p.id + `"}},"results":[{"message":{"text":"finding"},"locations":[{"physicalLocation":{"artifactLocation":{"uri":"main.go"}}}]}]}]}`
	path := filepath.Join(scanCWD, p.id+".sarif")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return nil, err
	}
	return map[string]string{"rule-1": path}, nil
}

func newTestWorkerDeps(t *testing.T) (*store.Store, Deps, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.Open(mr.Addr(), "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tempRoot := t.TempDir()
	reg := plugins.NewRegistry()

	return s, Deps{
		Tasks:      tasks.New(s.Tasks),
		Registry:   reg,
		Results:    results.New(s.Scans),
		RulesNS:    s.Rules,
		RulesCache: rules.NewCache(tempRoot),
		TempRoot:   tempRoot,
	}, tempRoot
}

func TestBuildKwargsAssemblesRuleFilesAndDir(t *testing.T) {
	s, deps, _ := newTestWorkerDeps(t)
	ctx := context.Background()

	scanID := "SCAN-2024-01-01-00-00-00"
	keys, err := rules.Upload(ctx, s.Rules, scanID, []rules.File{{RelativePath: "rule.yaml", Bytes: []byte("id: r1")}})
	if err != nil {
		t.Fatalf("upload rules: %v", err)
	}

	p := findingPlugin{id: "needs-both", reqs: []plugins.Requirement{
		{Name: plugins.RequireRulesDir, Required: true},
		{Name: plugins.RequireRuleFiles, Required: true},
		{Name: plugins.RequireExcludeGlobs},
	}}
	if err := deps.Registry.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	rulesDir, err := deps.RulesCache.Materialize(ctx, s.Rules, scanID, keys)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	cloneDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(cloneDir, "vendor"), 0o755); err != nil {
		t.Fatalf("mkdir vendor: %v", err)
	}

	w := &Worker{id: "w1", deps: deps}
	job := &tasks.Job{ScanID: scanID, RuleKeys: keys}
	kwargs, err := w.buildKwargs(ctx, "needs-both", job, rulesDir, cloneDir)
	if err != nil {
		t.Fatalf("buildKwargs: %v", err)
	}
	if kwargs[plugins.RequireRulesDir] != rulesDir {
		t.Errorf("rules_dir = %v, want %v", kwargs[plugins.RequireRulesDir], rulesDir)
	}
	files, ok := kwargs[plugins.RequireRuleFiles].([]rules.File)
	if !ok || len(files) != 1 || files[0].RelativePath != "rule.yaml" {
		t.Fatalf("rule_files = %#v", kwargs[plugins.RequireRuleFiles])
	}
	if _, err := os.Stat(filepath.Join(cloneDir, "vendor")); !os.IsNotExist(err) {
		t.Errorf("vendor dir should have been pruned, stat err = %v", err)
	}
}

func TestPluginRunThenStoreWritesResults(t *testing.T) {
	s, deps, _ := newTestWorkerDeps(t)
	ctx := context.Background()

	if err := deps.Registry.Register(findingPlugin{id: "scanner-a"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	job := &tasks.Job{
		ScanID:      "SCAN-2024-01-01-00-00-00",
		CloneURL:    "", // same-process fake clone below bypasses git entirely
		CloneURLWeb: "https://h/acme/foo.git",
		ScannerIDs:  []string{"scanner-a"},
	}

	w := &Worker{id: "w1", deps: deps}

	// runJob calls repos.Clone, which requires a reachable git remote; this
	// unit test instead exercises the plugin+store half of the pipeline
	// directly via the same code path runJob uses after cloning.
	cloneDir := t.TempDir()
	kwargs, err := w.buildKwargs(ctx, "scanner-a", job, "", cloneDir)
	if err != nil {
		t.Fatalf("buildKwargs: %v", err)
	}
	docs, err := deps.Registry.Run(ctx, "scanner-a", cloneDir, cloneDir, kwargs, os.ReadFile)
	if err != nil {
		t.Fatalf("registry run: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("docs = %d, want 1", len(docs))
	}
	merged := results.MergeRuleDocs(docs)
	if err := deps.Results.Write(ctx, job.ScanID, job.CloneURLWeb, "scanner-a", merged); err != nil {
		t.Fatalf("write results: %v", err)
	}

	got, err := deps.Results.Get(ctx, job.ScanID, "", "", "")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	if len(got.Projects) != 1 {
		t.Fatalf("projects = %d, want 1", len(got.Projects))
	}
}

func TestProcessJobMarksFailureOnCloneError(t *testing.T) {
	_, deps, _ := newTestWorkerDeps(t)
	deps.Env = config.Env{GitHubToken: "tok"}
	q := deps.Tasks

	job := &tasks.Job{
		ScanID:   "SCAN-2024-01-01-00-00-00",
		CloneURL: "not-a-real-remote",
		Provider: config.ProviderGitHub,
		Timeout:  2 * time.Second,
	}
	id, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job.ID = id

	w := New("w1", deps, 1)
	w.processJob(job)

	got, err := q.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != tasks.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Errorf("expected a failure reason recorded")
	}
}
