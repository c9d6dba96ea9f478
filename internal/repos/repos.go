// Package repos implements the repository-source contract: spec.md §1
// treats GitHub/GitLab enumeration and clone mechanics as external
// collaborators and specifies only the uniform descriptor and interface
// they must produce.
package repos

import (
	"context"
	"regexp"
	"time"

	"github.com/seznam/gsast-go/internal/config"
)

// Descriptor is the uniform record a repository source yields (spec.md
// §3 RepositoryDescriptor). Immutable once produced.
type Descriptor struct {
	Name         string
	FullName     string
	CloneURL     string
	WebURL       string
	SizeMB       int
	Archived     bool
	IsFork       bool
	Personal     bool
	Private      bool
	LastActivity time.Time
	CreatedAt    time.Time
	Owner        string
}

// StatusFunc receives enumeration progress lines; the coordinator
// throttles these into ScanRecord updates (spec.md §4.6 phase 2).
type StatusFunc func(line string)

// Source enumerates repository descriptors for a declarative target,
// already filtered (spec.md §2 item 6).
type Source interface {
	Enumerate(ctx context.Context, target config.Target, filters config.Filters, status StatusFunc) ([]Descriptor, error)
}

// MatchesFilters applies every configured filter in spec.md §6.2 to one
// descriptor.
func MatchesFilters(d Descriptor, f config.Filters) bool {
	if f.IsArchived != nil && d.Archived != *f.IsArchived {
		return false
	}
	if f.IsFork != nil && d.IsFork != *f.IsFork {
		return false
	}
	if f.IsPersonalProject != nil && d.Personal != *f.IsPersonalProject {
		return false
	}
	if f.MaxRepoMBSize != nil && d.SizeMB > *f.MaxRepoMBSize {
		return false
	}
	if f.LastCommitMaxAge != nil {
		maxAge := time.Duration(*f.LastCommitMaxAge) * 24 * time.Hour
		if !d.LastActivity.IsZero() && time.Since(d.LastActivity) > maxAge {
			return false
		}
	}
	if len(f.MustPathRegexes) > 0 {
		if !anyMatch(f.MustPathRegexes, d.FullName) {
			return false
		}
	}
	if len(f.IgnorePathRegexes) > 0 {
		if anyMatch(f.IgnorePathRegexes, d.FullName) {
			return false
		}
	}
	return true
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
