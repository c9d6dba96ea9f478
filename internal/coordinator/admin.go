package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/seznam/gsast-go/internal/store"
)

// Admin implements the unconditional destructive administrative
// operations of spec.md §4.6.
type Admin struct {
	store *store.Store
}

func NewAdmin(s *store.Store) *Admin {
	return &Admin{store: s}
}

// ListScans enumerates every top-level scan hash key (no ":" in the key)
// that carries a status field, sorted (scan ids are lexically sortable
// by construction).
func (a *Admin) ListScans(ctx context.Context) ([]string, error) {
	keys, err := a.store.Scans.Keys(ctx, "SCAN-*")
	if err != nil {
		return nil, fmt.Errorf("coordinator: list scans: %w", err)
	}
	var ids []string
	for _, k := range keys {
		if strings.Contains(k, ":") {
			continue
		}
		typ, err := a.store.Scans.Type(ctx, k)
		if err != nil {
			return nil, err
		}
		if typ != "hash" {
			continue
		}
		_, hasStatus, err := a.store.Scans.HGet(ctx, k, "status")
		if err != nil {
			return nil, err
		}
		if hasStatus {
			ids = append(ids, k)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// CleanupQueues flushes the scans, tasks, and rules namespaces
// (spec.md §6.1 DELETE /queue/cleanup).
func (a *Admin) CleanupQueues(ctx context.Context) error {
	if err := a.store.Scans.FlushDB(ctx); err != nil {
		return err
	}
	if err := a.store.Tasks.FlushDB(ctx); err != nil {
		return err
	}
	return a.store.Rules.FlushDB(ctx)
}

// CleanupProjects flushes the projects cache namespace
// (spec.md §6.1 DELETE /queue/projects).
func (a *Admin) CleanupProjects(ctx context.Context) error {
	return a.store.Projects.FlushDB(ctx)
}

// Record loads one scan's record, used by the metrics gauge that counts
// scans still in the "started" state.
func (a *Admin) Record(ctx context.Context, scanID string) (*ScanRecord, bool, error) {
	return GetRecord(ctx, a.store, scanID)
}

// ListProjectCacheKeys enumerates the projects namespace's keys
// (spec.md §6.1 GET /queue/projects).
func (a *Admin) ListProjectCacheKeys(ctx context.Context) ([]string, error) {
	return a.store.Projects.Keys(ctx, "*")
}
