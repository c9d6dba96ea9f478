// Package rules implements rule-file upload (spec.md §4.6 phase 1) and
// the on-disk ruleset cache workers materialize rule bytes into
// (spec.md §4.5).
package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seznam/gsast-go/internal/pathutil"
	"github.com/seznam/gsast-go/internal/store"
)

// ErrUnsafePath is returned for a rule file whose relative path would
// escape the per-scan materialization root.
var ErrUnsafePath = errors.New("rules: unsafe relative path")

// File is one rule artifact supplied with a ScanRequest (spec.md §3
// RuleFile).
type File struct {
	RelativePath string
	Bytes        []byte
}

var validExtensions = map[string]bool{".yaml": true, ".yml": true, ".json": true}

// ValidExtension reports whether path carries an accepted rule-file
// extension.
func ValidExtension(path string) bool {
	return validExtensions[strings.ToLower(filepath.Ext(path))]
}

// Key returns the rules-namespace key for one rule file of scanID.
func Key(scanID, relativePath string) string {
	return scanID + ":" + relativePath
}

// RelativePath extracts the path portion of a rule key, used by the
// worker to reconstruct rule_files kwargs (spec.md §4.7 step 4a).
func RelativePath(scanID, key string) (string, bool) {
	prefix := scanID + ":"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return key[len(prefix):], true
}

// Upload writes every file to the rules namespace and returns the keys
// written, in input order.
func Upload(ctx context.Context, ns *store.Namespace, scanID string, files []File) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if !pathutil.IsSafeRelativePath(f.RelativePath) {
			return keys, fmt.Errorf("%w: %s", ErrUnsafePath, f.RelativePath)
		}
		key := Key(scanID, f.RelativePath)
		if err := ns.Set(ctx, key, f.Bytes, 0); err != nil {
			return keys, fmt.Errorf("rules: upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Cache materializes rule bytes to disk, one root directory per scan id,
// reused across jobs of the same scan within one worker process
// (spec.md §4.5).
type Cache struct {
	tempRoot string

	mu    sync.Mutex
	roots map[string]string
}

func NewCache(tempRoot string) *Cache {
	return &Cache{tempRoot: tempRoot, roots: make(map[string]string)}
}

// Materialize writes the bytes addressed by keys (all belonging to
// scanID) under <temp_root>/<scan_id>/<relative_path> and returns that
// root directory. A second call for the same scan id within the same
// process returns the cached root without re-fetching.
func (c *Cache) Materialize(ctx context.Context, ns *store.Namespace, scanID string, keys []string) (string, error) {
	c.mu.Lock()
	if root, ok := c.roots[scanID]; ok {
		c.mu.Unlock()
		return root, nil
	}
	c.mu.Unlock()

	root := filepath.Join(c.tempRoot, scanID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("rules: create cache root: %w", err)
	}

	for _, key := range keys {
		rel, ok := RelativePath(scanID, key)
		if !ok {
			os.RemoveAll(root)
			return "", fmt.Errorf("rules: key %s does not belong to scan %s", key, scanID)
		}
		data, ok, err := ns.Get(ctx, key)
		if err != nil {
			os.RemoveAll(root)
			return "", fmt.Errorf("rules: fetch %s: %w", key, err)
		}
		if !ok {
			os.RemoveAll(root)
			return "", fmt.Errorf("rules: key %s not found", key)
		}
		dest := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			os.RemoveAll(root)
			return "", fmt.Errorf("rules: mkdir for %s: %w", dest, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			os.RemoveAll(root)
			return "", fmt.Errorf("rules: write %s: %w", dest, err)
		}
	}

	c.mu.Lock()
	c.roots[scanID] = root
	c.mu.Unlock()
	return root, nil
}
