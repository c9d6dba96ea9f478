// Package worker implements the job execution pipeline of spec.md §4.7:
// plan, materialize rules, clone, run plugins sequentially, gate and
// store results, clean up on every exit path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/gitauth"
	"github.com/seznam/gsast-go/internal/plugins"
	"github.com/seznam/gsast-go/internal/repos"
	"github.com/seznam/gsast-go/internal/results"
	"github.com/seznam/gsast-go/internal/rules"
	"github.com/seznam/gsast-go/internal/store"
	"github.com/seznam/gsast-go/internal/tasks"
)

// Deps bundles the collaborators a Worker drives.
type Deps struct {
	Tasks      *tasks.Queue
	Registry   *plugins.Registry
	Results    *results.Store
	RulesNS    *store.Namespace
	RulesCache *rules.Cache
	TempRoot   string
	Env        config.Env
}

// Worker pulls and executes jobs one at a time per goroutine
// (spec.md §5 "Within a worker, plugin execution is sequential").
type Worker struct {
	id          string
	deps        Deps
	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(id string, deps Deps, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{id: id, deps: deps, concurrency: concurrency, ctx: ctx, cancel: cancel}
}

// Start launches concurrency goroutines and a heartbeat loop so the
// coordinator's worker-readiness phase observes this worker
// (spec.md §4.6 phase 3).
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.heartbeatLoop()

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop()
	}
}

// Stop cancels the worker's context, which stops polling and also
// cancels the context of every in-flight job, then waits for the
// processing goroutines to return.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) heartbeatLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	w.deps.Tasks.Heartbeat(context.Background(), w.id)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.deps.Tasks.Heartbeat(context.Background(), w.id)
		}
	}
}

func (w *Worker) processLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		job, err := w.deps.Tasks.Dequeue(w.ctx, 30*time.Second)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			log.Printf("worker %s: dequeue: %v", w.id, err)
			continue
		}
		if job == nil {
			continue
		}
		w.processJob(job)
	}
}

func (w *Worker) processJob(job *tasks.Job) {
	ctx := w.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	if err := w.runJob(ctx, job); err != nil {
		log.Printf("worker %s: job %s: %v", w.id, job.ID, err)
		if ferr := w.deps.Tasks.Fail(context.Background(), job.ID, err); ferr != nil {
			log.Printf("worker %s: job %s: mark failed: %v", w.id, job.ID, ferr)
		}
		return
	}
	if err := w.deps.Tasks.Complete(context.Background(), job.ID); err != nil {
		log.Printf("worker %s: job %s: mark complete: %v", w.id, job.ID, err)
	}
}

// runJob implements spec.md §4.7 steps 1-5, recovering from any panic a
// plugin invocation triggers (spec.md §7 PluginCrashed) so the caller
// can still mark the job failed and clean up.
func (w *Worker) runJob(ctx context.Context, job *tasks.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", plugins.ErrPluginCrashed, r)
		}
	}()

	// Step 1: plan.
	needsRules := w.deps.Registry.NeedsRules(job.ScannerIDs)
	needsFullHistory := w.deps.Registry.NeedsFullGitHistory(job.ScannerIDs)

	// Step 2: materialize rules.
	var rulesDir string
	if needsRules {
		rulesDir, err = w.deps.RulesCache.Materialize(ctx, w.deps.RulesNS, job.ScanID, job.RuleKeys)
		if err != nil {
			return fmt.Errorf("materialize rules: %w", err)
		}
	}

	// Step 3: clone.
	auth, err := gitauth.ForProvider(ctx, job.Provider, w.deps.Env, nil)
	if err != nil {
		return fmt.Errorf("clone auth: %w", err)
	}
	cloneDir, err := repos.Clone(ctx, w.deps.TempRoot, job.CloneURL, needsFullHistory, auth)
	if err != nil {
		return err
	}
	defer os.RemoveAll(cloneDir)

	// Step 4: run plugins sequentially.
	hasUploadErrors := false
	projectURL := job.CloneURLWeb
	if projectURL == "" {
		projectURL = job.CloneURL
	}

	for _, pluginID := range job.ScannerIDs {
		kwargs, err := w.buildKwargs(ctx, pluginID, job, rulesDir, cloneDir)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", pluginID, err)
		}

		docs, err := w.deps.Registry.Run(ctx, pluginID, cloneDir, cloneDir, kwargs, os.ReadFile)
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("plugin %s: %w", pluginID, err)
			}
			return fmt.Errorf("%w: %s: %v", plugins.ErrPluginCrashed, pluginID, err)
		}
		if len(docs) == 0 {
			continue
		}
		merged := results.MergeRuleDocs(docs)
		if err := w.deps.Results.Write(ctx, job.ScanID, projectURL, pluginID, merged); err != nil {
			log.Printf("worker %s: job %s: store %s results: %v", w.id, job.ID, pluginID, err)
			hasUploadErrors = true
		}
	}

	// Step 5: finalize.
	if hasUploadErrors {
		return fmt.Errorf("results: one or more scanners failed to store results")
	}
	return nil
}

func (w *Worker) buildKwargs(ctx context.Context, pluginID string, job *tasks.Job, rulesDir, cloneDir string) (plugins.Kwargs, error) {
	p, ok := w.deps.Registry.Get(pluginID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugins.ErrUnknownPlugin, pluginID)
	}

	kwargs := plugins.Kwargs{}
	for _, req := range p.Requirements() {
		switch req.Name {
		case plugins.RequireRulesDir:
			if rulesDir != "" {
				kwargs[plugins.RequireRulesDir] = rulesDir
			}
		case plugins.RequireRuleFiles:
			files, err := reconstructRuleFiles(ctx, w.deps.RulesNS, job.ScanID, job.RuleKeys)
			if err != nil {
				return nil, err
			}
			if len(files) > 0 {
				kwargs[plugins.RequireRuleFiles] = files
			}
		case plugins.RequireExcludeGlobs:
			kwargs[plugins.RequireExcludeGlobs] = DefaultExcludeGlobs
			if err := PruneExcluded(cloneDir, DefaultExcludeGlobs); err != nil {
				log.Printf("worker %s: prune excludes: %v", w.id, err)
			}
		}
	}
	return kwargs, nil
}

func reconstructRuleFiles(ctx context.Context, ns *store.Namespace, scanID string, keys []string) ([]rules.File, error) {
	files := make([]rules.File, 0, len(keys))
	for _, key := range keys {
		rel, ok := rules.RelativePath(scanID, key)
		if !ok {
			continue
		}
		data, ok, err := ns.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("rule_files: fetch %s: %w", key, err)
		}
		if !ok {
			continue
		}
		files = append(files, rules.File{RelativePath: rel, Bytes: data})
	}
	return files, nil
}
