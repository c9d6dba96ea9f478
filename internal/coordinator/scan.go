// Package coordinator implements the tracked scan coordinator of
// spec.md §4.6: one goroutine owns a scan from initiation to terminal
// status, driving rule upload, repository enumeration, worker
// readiness, job enqueue, and drain.
package coordinator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/plugins"
	"github.com/seznam/gsast-go/internal/repos"
	"github.com/seznam/gsast-go/internal/rules"
	"github.com/seznam/gsast-go/internal/store"
	"github.com/seznam/gsast-go/internal/tasks"
)

// Scan lifecycle error kinds (spec.md §7).
var (
	ErrNoRepositories    = errors.New("coordinator: no repositories found")
	ErrNoWorkers         = errors.New("coordinator: no workers available")
	ErrRuleUploadFailed  = errors.New("coordinator: rule upload failed")
)

// Status values of ScanRecord.Status (spec.md §4.6).
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanRecord is the persisted scan state (spec.md §3).
type ScanRecord struct {
	ScanID  string         `json:"scan_id"`
	Message string         `json:"message"`
	Jobs    map[string]int `json:"jobs"`
	Status  string         `json:"status"`
}

// Request bundles everything the coordinator needs to run one scan
// (spec.md §3 ScanRequest, discarded once the ScanId is minted).
type Request struct {
	Config    config.GSASTConfig
	RuleFiles []rules.File
}

// Deps are the collaborators a Coordinator drives; all but Source are
// concrete implementations of the core's own packages, Source is the
// external repository-enumeration contract (spec.md §2 item 6).
type Deps struct {
	Store     *store.Store
	Tasks     *tasks.Queue
	Registry  *plugins.Registry
	Source    repos.Source
	Timeouts  config.Timeouts
}

// Coordinator owns one scan for its entire lifetime. It is the sole
// writer of its ScanRecord (spec.md §4.6 "single-owner writer").
type Coordinator struct {
	id   string
	req  Request
	deps Deps
}

// New mints a ScanId and returns a Coordinator that has not yet started.
func New(req Request, deps Deps) *Coordinator {
	return &Coordinator{id: MintScanID(), req: req, deps: deps}
}

// ScanID returns the minted, immutable scan identifier.
func (c *Coordinator) ScanID() string { return c.id }

// MintScanID produces a sortable, timestamped scan id (spec.md §3):
// SCAN-YYYY-MM-DD-HH-MM-SS. Seconds-resolution collisions are vanishingly
// rare in practice (one POST /scan per second sustained) but are made
// harmless by appending a short random suffix when they do occur.
func MintScanID() string {
	base := "SCAN-" + time.Now().UTC().Format("2006-01-02-15-04-05")
	return base
}

// mintUniqueScanID is used internally when the base id is already taken.
func mintUniqueScanID(base string) string {
	b := make([]byte, 2)
	_, _ = rand.Read(b)
	return base + "-" + hex.EncodeToString(b)
}

// Run executes the six phases of spec.md §4.6 in order. It is meant to be
// invoked as `go c.Run(ctx)` by the API handler that accepted the scan
// (spec.md §5 "spawns a detached scan coordinator").
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.ensureUniqueID(ctx); err != nil {
		log.Printf("coordinator: %s: %v", c.id, err)
		return
	}
	c.writeRecord(ctx, &ScanRecord{ScanID: c.id, Status: StatusStarted, Message: "Scan initiated successfully", Jobs: map[string]int{}})

	ruleKeys, err := c.uploadRules(ctx)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	descriptors, err := c.enumerateRepositories(ctx)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	if err := c.waitForWorkers(ctx); err != nil {
		c.fail(ctx, err)
		return
	}

	jobIDs, err := c.enqueueJobs(ctx, descriptors, ruleKeys)
	if err != nil {
		c.fail(ctx, err)
		return
	}

	c.drain(ctx, jobIDs)
	c.finalize(ctx)
}

func (c *Coordinator) ensureUniqueID(ctx context.Context) error {
	fields, err := c.deps.Store.Scans.HGetAll(ctx, c.id)
	if err != nil {
		return fmt.Errorf("coordinator: check scan id: %w", err)
	}
	if len(fields) > 0 {
		c.id = mintUniqueScanID(c.id)
	}
	return nil
}

// phase 1: rule upload
func (c *Coordinator) uploadRules(ctx context.Context) ([]string, error) {
	keys, err := rules.Upload(ctx, c.deps.Store.Rules, c.id, c.req.RuleFiles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleUploadFailed, err)
	}
	if len(keys) == 0 && c.deps.Registry.NeedsRules(c.req.Config.Scanners) {
		return nil, fmt.Errorf("%w: rule files are required", ErrRuleUploadFailed)
	}
	return keys, nil
}

// phase 2: repository enumeration, throttled status callback
func (c *Coordinator) enumerateRepositories(ctx context.Context) ([]repos.Descriptor, error) {
	var last time.Time
	interval := c.deps.Timeouts.ProjectStatusPoll
	if interval <= 0 {
		interval = time.Second
	}
	status := func(line string) {
		now := time.Now()
		if now.Sub(last) < interval {
			return
		}
		last = now
		c.updateMessage(ctx, line)
	}

	descriptors, err := c.deps.Source.Enumerate(ctx, c.req.Config.Target, c.req.Config.Filters, status)
	if err != nil {
		return nil, fmt.Errorf("coordinator: enumerate: %w", err)
	}
	if len(descriptors) == 0 {
		return nil, ErrNoRepositories
	}
	return descriptors, nil
}

// phase 3: worker readiness, polled at one-second granularity
func (c *Coordinator) waitForWorkers(ctx context.Context) error {
	timeout := c.deps.Timeouts.WorkerWait
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	deadline := time.Now().Add(timeout)
	tick := time.Second
	if timeout/4 < tick {
		tick = timeout / 4
		if tick <= 0 {
			tick = time.Millisecond
		}
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		n, err := c.deps.Tasks.ActiveWorkers(ctx)
		if err != nil {
			return fmt.Errorf("coordinator: worker readiness: %w", err)
		}
		if n > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNoWorkers
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// phase 4: enqueue one job per repository
func (c *Coordinator) enqueueJobs(ctx context.Context, descriptors []repos.Descriptor, ruleKeys []string) ([]string, error) {
	jobTimeout := c.deps.Timeouts.Job
	resultTTL := c.deps.Timeouts.JobResultTTL

	ids := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		job := &tasks.Job{
			ScanID:      c.id,
			CloneURL:    d.CloneURL,
			CloneURLWeb: d.WebURL,
			Provider:    c.req.Config.Target.Provider,
			RuleKeys:    ruleKeys,
			ScannerIDs:  c.req.Config.Scanners,
			Timeout:     jobTimeout,
			ResultTTL:   resultTTL,
			Description: c.id,
		}
		id, err := c.deps.Tasks.Enqueue(ctx, job)
		if err != nil {
			return ids, fmt.Errorf("coordinator: enqueue: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// phase 5: drain loop, exits when non-terminal count reaches 0
func (c *Coordinator) drain(ctx context.Context, jobIDs []string) {
	interval := c.deps.Timeouts.JobPollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		jobs, err := c.deps.Tasks.ListByScan(ctx, c.id)
		if err != nil {
			log.Printf("coordinator: %s: drain: %v", c.id, err)
		} else {
			tally := map[string]int{}
			nonTerminal := 0
			for _, j := range jobs {
				tally[j.Status]++
				if tasks.NonTerminal(j.Status) {
					nonTerminal++
				}
			}
			c.writeJobs(ctx, tally)
			if len(jobs) >= len(jobIDs) && nonTerminal == 0 {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// phase 6: finalize
func (c *Coordinator) finalize(ctx context.Context) {
	c.deps.Store.Scans.HSetFields(ctx, c.id, map[string]any{"status": StatusCompleted})
}

func (c *Coordinator) fail(ctx context.Context, err error) {
	log.Printf("coordinator: %s: failed: %v", c.id, err)
	c.deps.Store.Scans.HSetFields(ctx, c.id, map[string]any{
		"status":  StatusFailed,
		"message": failureMessage(err),
	})
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoRepositories):
		return "No projects found"
	case errors.Is(err, ErrNoWorkers):
		return "No workers available"
	case errors.Is(err, ErrRuleUploadFailed):
		return "Rule files are required"
	default:
		return err.Error()
	}
}

func (c *Coordinator) writeRecord(ctx context.Context, r *ScanRecord) {
	jobsJSON, _ := json.Marshal(r.Jobs)
	c.deps.Store.Scans.HSetFields(ctx, c.id, map[string]any{
		"status":  r.Status,
		"message": r.Message,
		"jobs":    string(jobsJSON),
	})
}

func (c *Coordinator) updateMessage(ctx context.Context, line string) {
	c.deps.Store.Scans.HSetFields(ctx, c.id, map[string]any{"message": line})
}

func (c *Coordinator) writeJobs(ctx context.Context, tally map[string]int) {
	data, _ := json.Marshal(tally)
	c.deps.Store.Scans.HSetFields(ctx, c.id, map[string]any{"jobs": string(data)})
}

// GetRecord loads a ScanRecord by id, used by the status endpoint
// (spec.md §6.1 GET /scan/{id}/status).
func GetRecord(ctx context.Context, s *store.Store, scanID string) (*ScanRecord, bool, error) {
	fields, err := s.Scans.HGetAll(ctx, scanID)
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	r := &ScanRecord{ScanID: scanID, Message: fields["message"], Status: fields["status"], Jobs: map[string]int{}}
	if raw, ok := fields["jobs"]; ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &r.Jobs)
	}
	return r, true, nil
}
