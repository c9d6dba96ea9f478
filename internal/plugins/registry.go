package plugins

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/seznam/gsast-go/internal/sarif"
)

// ErrDuplicatePlugin is returned by Register for a plugin id already
// present; the first registration wins (spec.md §4.2).
var ErrDuplicatePlugin = errors.New("plugins: duplicate plugin id")

// ErrUnknownPlugin is returned for operations on an unregistered id.
var ErrUnknownPlugin = errors.New("plugins: unknown plugin id")

// Registry indexes plugins by stable plugin id.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds p under its metadata's PluginID. The first registration
// of a given id wins; later attempts are rejected.
func (r *Registry) Register(p Plugin) error {
	id := p.Metadata().PluginID
	if id == "" {
		return fmt.Errorf("plugins: register: empty plugin id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, id)
	}
	r.plugins[id] = p
	return nil
}

func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	return p, ok
}

// List returns the metadata of every registered plugin.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Metadata())
	}
	return out
}

func (r *Registry) Metadata(id string) (Metadata, bool) {
	p, ok := r.Get(id)
	if !ok {
		return Metadata{}, false
	}
	return p.Metadata(), true
}

// Validate runs each plugin's Validate against kwargs, failing on the
// first plugin that rejects.
func (r *Registry) Validate(ids []string, kwargs Kwargs) error {
	for _, id := range ids {
		p, ok := r.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
		}
		if err := p.Validate(kwargs); err != nil {
			return fmt.Errorf("plugins: %s: %w", id, err)
		}
	}
	return nil
}

// Requirements aggregates the declared requirements of every id.
func (r *Registry) Requirements(ids []string) map[string][]Requirement {
	out := make(map[string][]Requirement, len(ids))
	for _, id := range ids {
		if p, ok := r.Get(id); ok {
			out[id] = p.Requirements()
		}
	}
	return out
}

// NeedsFullGitHistory reports whether any of ids declares full_git_history
// as required (spec.md §4.2).
func (r *Registry) NeedsFullGitHistory(ids []string) bool {
	return r.anyRequires(ids, RequireFullGitHistory)
}

// NeedsRules reports whether any of ids declares rules_dir as required
// (spec.md §4.7 step 1).
func (r *Registry) NeedsRules(ids []string) bool {
	return r.anyRequires(ids, RequireRulesDir)
}

func (r *Registry) anyRequires(ids []string, name string) bool {
	for _, id := range ids {
		p, ok := r.Get(id)
		if !ok {
			continue
		}
		for _, req := range p.Requirements() {
			if req.Name == name && req.Required {
				return true
			}
		}
	}
	return false
}

// Run invokes plugin id and gates every SARIF file it returns: a file
// that fails structural validation is dropped with a logged warning
// (spec.md §4.3 Failure policy); the rest are standardized and returned
// decoded, keyed by rule id.
func (r *Registry) Run(ctx context.Context, id, projectSourcesDir, scanCWD string, kwargs Kwargs, loadFile func(path string) ([]byte, error)) (map[string]*sarif.Document, error) {
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	meta := p.Metadata()

	paths, err := p.Run(ctx, projectSourcesDir, scanCWD, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPluginCrashed, id, err)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	out := make(map[string]*sarif.Document, len(paths))
	for ruleID, path := range paths {
		data, err := loadFile(path)
		if err != nil {
			log.Printf("sarif gate: plugin %s rule %s: read %s: %v", id, ruleID, path, err)
			continue
		}
		doc, err := sarif.Parse(data)
		if err != nil {
			log.Printf("sarif gate: plugin %s rule %s: %v", id, ruleID, err)
			continue
		}
		if err := sarif.Validate(doc); err != nil {
			log.Printf("sarif gate: plugin %s rule %s: %v", id, ruleID, err)
			continue
		}
		sarif.Standardize(doc, sarif.Metadata{
			PluginID:     meta.PluginID,
			PluginName:   meta.Name,
			PluginVer:    meta.Version,
			PluginAuthor: meta.Author,
		})
		out[ruleID] = doc
	}
	return out, nil
}
