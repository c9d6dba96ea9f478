package worker

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludeGlobs are pruned from a clone before any plugin that
// declares the exclude_globs requirement runs, mirroring the
// ignore-list every scanner in this space carries.
var DefaultExcludeGlobs = []string{
	".git/**",
	".terraform/**",
	"vendor/**",
	"node_modules/**",
}

// PruneExcluded removes every file or directory under root whose
// root-relative path matches one of globs, used for plugins (like the
// dependency-confusion checker) that have no native exclude flag of
// their own.
func PruneExcluded(root string, globs []string) error {
	var toRemove []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if matchesAny(rel, globs) {
			toRemove = append(toRemove, path)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, path := range toRemove {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

func matchesAny(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}
