// Package pathutil guards against path traversal in user-supplied
// relative paths before they're joined onto a filesystem root.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// IsSafeRelativePath reports whether path is safe to join onto a root
// directory: not absolute, and not able to traverse above that root.
// Used to validate rule-file names before they're written under a
// per-scan cache directory (spec.md §4.5).
func IsSafeRelativePath(path string) bool {
	if path == "" {
		return true
	}
	if filepath.IsAbs(path) {
		return false
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return false
	}
	return true
}
