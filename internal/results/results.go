// Package results implements the per-(scan, project, scanner) SARIF
// results store and its filtered query surface (spec.md §4.4).
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/seznam/gsast-go/internal/sarif"
	"github.com/seznam/gsast-go/internal/store"
)

// ProjectResults is the on-wire shape of one scan_id:results:project_url
// hash (spec.md §3).
type ProjectResults struct {
	Results     map[string]json.RawMessage `json:"results"`
	ProjectURL  string                     `json:"project_url"`
	ScannerType string                     `json:"scanner_type"`
	UpdatedAt   int64                      `json:"updated_at"`
}

// Store owns the scans namespace's results keys.
type Store struct {
	ns *store.Namespace

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

func New(ns *store.Namespace) *Store {
	return &Store{ns: ns, keyLocks: make(map[string]*sync.Mutex)}
}

func resultsKey(scanID, projectURL string) string {
	return scanID + ":results:" + projectURL
}

func projectsKey(scanID string) string {
	return scanID + ":projects"
}

// lockFor returns a process-local mutex scoped to one results key. The
// store has no native compare-and-set for hash field merges, so writes to
// the same (scan_id, project_url) are serialized here, per spec.md §5's
// "short-held lock implemented in the store" guidance.
func (s *Store) lockFor(key string) *sync.Mutex {
	s.keyLocksMu.Lock()
	defer s.keyLocksMu.Unlock()
	m, ok := s.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.keyLocks[key] = m
	}
	return m
}

// MergeRuleDocs combines the per-rule SARIF documents a plugin returned
// into the single envelope-per-scanner the store expects (spec.md §4.4
// step 2: "per-rule splits are the scanner's concern").
func MergeRuleDocs(docs map[string]*sarif.Document) *sarif.Document {
	merged := &sarif.Document{Schema: "https://json.schemastore.org/sarif-2.1.0.json", Version: sarif.Version}
	for _, doc := range docs {
		merged.Runs = append(merged.Runs, doc.Runs...)
	}
	return merged
}

// Write implements spec.md §4.4's write path for one scanner's payload.
func (s *Store) Write(ctx context.Context, scanID, projectURL, scannerID string, payload *sarif.Document) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("results: marshal payload: %w", err)
	}

	key := resultsKey(scanID, projectURL)
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.loadRaw(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &ProjectResults{Results: map[string]json.RawMessage{}}
	}
	existing.Results[scannerID] = raw
	existing.ProjectURL = projectURL
	existing.ScannerType = scannerID
	existing.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(existing.Results)
	if err != nil {
		return fmt.Errorf("results: marshal results map: %w", err)
	}
	if err := s.ns.HSetFields(ctx, key, map[string]any{
		"results":      string(data),
		"project_url":  projectURL,
		"scanner_type": scannerID,
		"updated_at":   existing.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("results: write: %w", err)
	}
	return s.ns.SAdd(ctx, projectsKey(scanID), projectURL)
}

func (s *Store) loadRaw(ctx context.Context, key string) (*ProjectResults, error) {
	fields, err := s.ns.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("results: read %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	pr := &ProjectResults{
		Results:     map[string]json.RawMessage{},
		ProjectURL:  fields["project_url"],
		ScannerType: fields["scanner_type"],
	}
	if raw, ok := fields["results"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &pr.Results); err != nil {
			return nil, fmt.Errorf("results: decode results map for %s: %w", key, err)
		}
	}
	if raw, ok := fields["updated_at"]; ok && raw != "" {
		updatedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("results: decode updated_at for %s: %w", key, err)
		}
		pr.UpdatedAt = updatedAt
	}
	return pr, nil
}

// QueryResult is the response envelope for GET /scan/{id}/results.
type QueryResult struct {
	ScanID   string                    `json:"scan_id"`
	Projects map[string]ProjectView    `json:"projects"`
	Error    string                    `json:"error,omitempty"`
}

type ProjectView struct {
	Results   map[string]interface{} `json:"results"`
	UpdatedAt int64                  `json:"updated_at"`
}

// Get implements spec.md §4.4's read path.
func (s *Store) Get(ctx context.Context, scanID, projectFilter, scannerFilter, pathQuery string) (*QueryResult, error) {
	urls, err := s.ns.SMembers(ctx, projectsKey(scanID))
	if err != nil {
		return nil, fmt.Errorf("results: list projects: %w", err)
	}
	if len(urls) == 0 {
		return nil, nil
	}

	out := &QueryResult{ScanID: scanID, Projects: map[string]ProjectView{}}
	for _, url := range urls {
		if projectFilter != "" && !matchesProjectFilter(url, projectFilter) {
			continue
		}
		pr, err := s.loadRaw(ctx, resultsKey(scanID, url))
		if err != nil {
			return nil, err
		}
		if pr == nil {
			continue
		}

		decoded := map[string]interface{}{}
		for scannerID, raw := range pr.Results {
			if scannerFilter != "" && !strings.Contains(scannerID, scannerFilter) {
				continue
			}
			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				log.Printf("results: decode %s/%s: %v", url, scannerID, err)
				continue
			}
			decoded[scannerID] = v
		}
		if len(decoded) == 0 {
			continue
		}

		if pathQuery != "" {
			queried, qerr := applyPathQuery(decoded, pathQuery)
			if qerr != nil {
				if isMalformedQuery(qerr) {
					return &QueryResult{ScanID: scanID, Error: fmt.Sprintf("invalid query: %v", qerr)}, nil
				}
				// Runtime error: fall back to unfiltered results for this project.
				log.Printf("results: query %q runtime error on %s: %v", pathQuery, url, qerr)
			} else {
				decoded = queried
				if len(decoded) == 0 {
					continue
				}
			}
		}

		out.Projects[url] = ProjectView{Results: decoded, UpdatedAt: pr.UpdatedAt}
	}
	if len(out.Projects) == 0 {
		return nil, nil
	}
	return out, nil
}

func matchesProjectFilter(url, filter string) bool {
	if strings.Contains(url, filter) {
		return true
	}
	if strings.HasSuffix(url, "/"+filter+".git") {
		return true
	}
	if strings.HasSuffix(url, ":"+filter+".git") {
		return true
	}
	return false
}

type malformedQueryError struct{ err error }

func (e malformedQueryError) Error() string { return e.err.Error() }
func isMalformedQuery(err error) bool {
	_, ok := err.(malformedQueryError)
	return ok
}

// applyPathQuery evaluates expr against every scanner's decoded payload
// independently; the matched values become that scanner's new entry, and
// a scanner whose match list is empty is left out. A compile failure of
// expr itself is malformed (spec.md §4.4 "a single error envelope"); a
// compiled expression that errors against a particular payload (e.g. no
// such field) is returned as a plain runtime error, on which Get keeps
// the project's unfiltered results.
func applyPathQuery(decoded map[string]interface{}, expr string) (map[string]interface{}, error) {
	eval, err := jsonpath.Language().NewEvaluable(expr)
	if err != nil {
		return nil, malformedQueryError{err}
	}
	out := make(map[string]interface{}, len(decoded))
	for scannerID, payload := range decoded {
		v, err := eval(context.Background(), payload)
		if err != nil {
			return nil, fmt.Errorf("scanner %s: %w", scannerID, err)
		}
		if list, ok := v.([]interface{}); ok && len(list) == 0 {
			continue
		}
		out[scannerID] = v
	}
	return out, nil
}
