package plugins

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// execPlugin is the shared shape of the three built-in scanners: each
// shells out to an external binary (not reimplemented here, per
// spec.md §1) and expects it to write one SARIF file per rule id under a
// results directory inside scanCWD.
type execPlugin struct {
	meta    Metadata
	reqs    []Requirement
	binary  string
	buildArgs func(projectSourcesDir, resultsDir string, kwargs Kwargs) ([]string, error)
}

func (p execPlugin) Metadata() Metadata           { return p.meta }
func (p execPlugin) Requirements() []Requirement  { return p.reqs }
func (p execPlugin) Validate(kwargs Kwargs) error { return ValidateRequirements(p.reqs, kwargs) }

func (p execPlugin) Run(ctx context.Context, projectSourcesDir, scanCWD string, kwargs Kwargs) (map[string]string, error) {
	if err := p.Validate(kwargs); err != nil {
		return nil, err
	}
	resultsDir := filepath.Join(scanCWD, p.meta.PluginID+"-results")
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: create results dir: %w", p.meta.PluginID, err)
	}

	args, err := p.buildArgs(projectSourcesDir, resultsDir, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.meta.PluginID, err)
	}

	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.Dir = projectSourcesDir
	if out, err := cmd.CombinedOutput(); err != nil {
		var exitErr *exec.ExitError
		// Most SAST CLIs exit non-zero when findings exist; that is not
		// itself a plugin failure. Treat an exec.ExitError as "ran, check
		// output" and anything else (binary missing, context cancelled)
		// as crashed.
		if !isExitError(err, &exitErr) {
			return nil, fmt.Errorf("%s: run: %w: %s", p.meta.PluginID, err, out)
		}
	}

	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("%s: read results dir: %w", p.meta.PluginID, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ruleID := trimSarifExt(e.Name())
		out[ruleID] = filepath.Join(resultsDir, e.Name())
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func trimSarifExt(name string) string {
	for _, ext := range []string{".sarif.json", ".sarif", ".json"} {
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// NewSemgrep wraps the semgrep CLI. Both rules_dir and rule_files are
// required; the scan itself is configured from rules_dir.
func NewSemgrep() Plugin {
	return execPlugin{
		meta: Metadata{
			PluginID:    "semgrep",
			Name:        "Semgrep",
			Version:     "1.0.0",
			Author:      "gsast",
			Description: "Static pattern-based source code scanner",
		},
		reqs: []Requirement{
			{Name: RequireRulesDir, Required: true, Description: "directory of rule files"},
			{Name: RequireRuleFiles, Required: true, Description: "explicit rule file list"},
			{Name: RequireExcludeGlobs, Required: false, Description: "paths excluded from scanning"},
		},
		binary: "semgrep",
		buildArgs: func(projectSourcesDir, resultsDir string, kwargs Kwargs) ([]string, error) {
			rulesDir, _ := kwargs[RequireRulesDir].(string)
			if rulesDir == "" {
				return nil, fmt.Errorf("semgrep: rules_dir required")
			}
			out := filepath.Join(resultsDir, "semgrep.sarif")
			args := []string{"scan", "--config", rulesDir, "--sarif", "--output", out, projectSourcesDir}
			for _, g := range excludeGlobs(kwargs) {
				args = append(args, "--exclude", g)
			}
			return args, nil
		},
	}
}

// NewTrufflehog wraps the trufflehog CLI (secret scanning). Declares
// full_git_history as required: detecting secrets in prior commits needs
// the full clone.
func NewTrufflehog() Plugin {
	return execPlugin{
		meta: Metadata{
			PluginID:    "trufflehog",
			Name:        "TruffleHog",
			Version:     "1.0.0",
			Author:      "gsast",
			Description: "Git history secret scanner",
		},
		reqs: []Requirement{
			{Name: RequireFullGitHistory, Required: true, Description: "scans every commit, not just HEAD"},
		},
		binary: "trufflehog",
		buildArgs: func(projectSourcesDir, resultsDir string, kwargs Kwargs) ([]string, error) {
			out := filepath.Join(resultsDir, "trufflehog.sarif")
			return []string{"git", "file://" + projectSourcesDir, "--sarif", "--output", out}, nil
		},
	}
}

// NewDependencyConfusion wraps a dependency-confusion checker: compares
// package manifests against known public registries.
func NewDependencyConfusion() Plugin {
	return execPlugin{
		meta: Metadata{
			PluginID:    "dependency-confusion",
			Name:        "Dependency Confusion Checker",
			Version:     "1.0.0",
			Author:      "gsast",
			Description: "Flags internal package names shadowed in public registries",
		},
		reqs: []Requirement{
			{Name: RequireExcludeGlobs, Required: false, Description: "paths excluded from manifest discovery"},
		},
		binary: "dependency-confusion-checker",
		buildArgs: func(projectSourcesDir, resultsDir string, kwargs Kwargs) ([]string, error) {
			out := filepath.Join(resultsDir, "dependency-confusion.sarif")
			return []string{"--path", projectSourcesDir, "--sarif-out", out}, nil
		},
	}
}

func excludeGlobs(kwargs Kwargs) []string {
	v, _ := kwargs[RequireExcludeGlobs].([]string)
	return v
}
