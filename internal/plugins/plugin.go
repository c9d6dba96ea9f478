// Package plugins implements the scanner plugin contract and registry
// described in spec.md §4.2: discovery by stable plugin id, requirement
// negotiation, and SARIF-gated execution.
package plugins

import (
	"context"
	"errors"
	"fmt"
)

// Requirement names. The set is open-ended ("including at minimum", per
// spec.md §4.2) — a plugin may declare additional requirement names the
// worker understands, such as RequireExcludeGlobs (see
// worker.DefaultExcludeGlobs).
const (
	RequireRuleFiles      = "rule_files"
	RequireRulesDir       = "rules_dir"
	RequireFullGitHistory = "full_git_history"
	RequireExcludeGlobs   = "exclude_globs"
)

// Metadata identifies a plugin and is stamped into SARIF output by the
// gate (spec.md §4.3).
type Metadata struct {
	PluginID    string
	Name        string
	Version     string
	Author      string
	Description string
}

// Requirement is a named precondition a plugin declares.
type Requirement struct {
	Name        string
	Required    bool
	Description string
}

// Kwargs carries the parameters assembled for one plugin invocation
// (rules_dir path, reconstructed rule files, exclude globs, ...).
type Kwargs map[string]interface{}

// ErrRequirementUnmet is returned by Validate when a required kwarg is
// absent.
var ErrRequirementUnmet = errors.New("plugins: requirement unmet")

// ErrPluginCrashed wraps any error Run could not attribute to "no
// findings" (spec.md §7 PluginCrashed).
var ErrPluginCrashed = errors.New("plugins: plugin crashed")

// Plugin is the capability set every scanner satisfies (spec.md §4.2 and
// §9's "Plugin polymorphism" note).
type Plugin interface {
	Metadata() Metadata
	Requirements() []Requirement
	// Validate performs only a check, no side effects.
	Validate(kwargs Kwargs) error
	// Run produces zero or more SARIF file paths keyed by rule id. A nil,
	// nil return means "ran cleanly, no findings" — not an error.
	Run(ctx context.Context, projectSourcesDir, scanCWD string, kwargs Kwargs) (map[string]string, error)
}

// ValidateRequirements is the shared Validate() body every built-in
// plugin uses: every requirement marked Required must have a
// corresponding kwarg entry that is present and non-nil.
func ValidateRequirements(reqs []Requirement, kwargs Kwargs) error {
	for _, r := range reqs {
		if !r.Required {
			continue
		}
		v, ok := kwargs[r.Name]
		if !ok || v == nil {
			return fmt.Errorf("%s: %w", r.Name, ErrRequirementUnmet)
		}
	}
	return nil
}
