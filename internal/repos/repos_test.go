package repos

import (
	"testing"
	"time"

	"github.com/seznam/gsast-go/internal/config"
)

func boolp(b bool) *bool { return &b }
func intp(i int) *int    { return &i }

func TestMatchesFiltersArchived(t *testing.T) {
	d := Descriptor{Archived: true}
	if MatchesFilters(d, config.Filters{IsArchived: boolp(false)}) {
		t.Error("archived repo matched is_archived=false filter")
	}
	if !MatchesFilters(d, config.Filters{IsArchived: boolp(true)}) {
		t.Error("archived repo did not match is_archived=true filter")
	}
}

func TestMatchesFiltersMaxSize(t *testing.T) {
	d := Descriptor{SizeMB: 500}
	if MatchesFilters(d, config.Filters{MaxRepoMBSize: intp(100)}) {
		t.Error("500MB repo matched max_repo_mb_size=100")
	}
	if !MatchesFilters(d, config.Filters{MaxRepoMBSize: intp(1000)}) {
		t.Error("500MB repo did not match max_repo_mb_size=1000")
	}
}

func TestMatchesFiltersLastActivity(t *testing.T) {
	d := Descriptor{LastActivity: time.Now().Add(-100 * 24 * time.Hour)}
	if MatchesFilters(d, config.Filters{LastCommitMaxAge: intp(30)}) {
		t.Error("stale repo matched last_commit_max_age=30")
	}
	if !MatchesFilters(d, config.Filters{LastCommitMaxAge: intp(365)}) {
		t.Error("recent-enough repo did not match last_commit_max_age=365")
	}
}

func TestMatchesFiltersPathRegex(t *testing.T) {
	d := Descriptor{FullName: "acme/legacy-service"}
	if !MatchesFilters(d, config.Filters{}) {
		t.Error("no filters should match everything")
	}
	ignoreRE, _ := config.ParseGSASTConfig([]byte(`{"base_url":"https://h/","target":{"provider":"github","organizations":["acme"]},"filters":{"ignore_path_regexes":["^acme/legacy-"]}}`))
	if MatchesFilters(d, ignoreRE.Filters) {
		t.Error("legacy-service matched despite ignore_path_regexes")
	}
}
