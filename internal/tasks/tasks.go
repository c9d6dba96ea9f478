// Package tasks implements the durable FIFO job queue described in
// spec.md §4.1/§4.6/§4.7: coordinators enqueue Jobs, workers dequeue and
// transition them through {queued, started, finished, failed, canceled}.
package tasks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seznam/gsast-go/internal/config"
	"github.com/seznam/gsast-go/internal/store"
)

// Job statuses. "deferred" and "scheduled" are carried from spec.md's
// non-terminal set even though this queue never produces them itself —
// a future retry policy could, and the drain loop must already treat
// them as non-terminal.
const (
	StatusQueued    = "queued"
	StatusStarted   = "started"
	StatusDeferred  = "deferred"
	StatusScheduled = "scheduled"
	StatusFinished  = "finished"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// NonTerminal reports whether status still counts toward the coordinator's
// drain loop (spec.md §4.6 phase 5).
func NonTerminal(status string) bool {
	switch status {
	case StatusQueued, StatusStarted, StatusDeferred, StatusScheduled:
		return true
	default:
		return false
	}
}

var ErrJobNotFound = errors.New("tasks: job not found")

const (
	keyQueueList  = "tasks:queue"
	keyJobPrefix  = "tasks:job:"
	keyScanJobs   = "tasks:scan:"  // + scan_id -> set of job ids
	keyWorkers    = "tasks:workers" // sorted set, score = unix heartbeat
	workerTTL     = 30 * time.Second
)

// Job is one unit of scan work dispatched to a worker (spec.md §3 Job).
type Job struct {
	ID          string          `json:"id"`
	ScanID      string          `json:"scan_id"`
	CloneURL    string          `json:"clone_url"`
	CloneURLWeb string          `json:"clone_url_web"`
	Provider    config.Provider `json:"provider"`
	RuleKeys    []string        `json:"rule_keys"`
	ScannerIDs  []string        `json:"scanner_ids"`
	Timeout     time.Duration   `json:"timeout"`
	ResultTTL   time.Duration   `json:"result_ttl"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	StartedAt   time.Time       `json:"started_at,omitempty"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// Queue is the tasks-namespace job queue.
type Queue struct {
	ns *store.Namespace
}

func New(ns *store.Namespace) *Queue {
	return &Queue{ns: ns}
}

func newJobID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "job-" + hex.EncodeToString(b)
}

// Enqueue writes the job hash, appends it to the FIFO list, and tracks it
// under its scan id so the coordinator's drain loop can refresh every job
// of a scan without a full key scan.
func (q *Queue) Enqueue(ctx context.Context, j *Job) (string, error) {
	if j.ID == "" {
		j.ID = newJobID()
	}
	j.Status = StatusQueued
	j.EnqueuedAt = time.Now().UTC()

	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("tasks: marshal job: %w", err)
	}
	key := keyJobPrefix + j.ID
	if err := q.ns.Set(ctx, key, data, j.ResultTTL); err != nil {
		return "", fmt.Errorf("tasks: write job: %w", err)
	}
	if err := q.ns.Client().RPush(ctx, keyQueueList, j.ID).Err(); err != nil {
		return "", fmt.Errorf("tasks: push job: %w", err)
	}
	if j.ScanID != "" {
		if err := q.ns.SAdd(ctx, keyScanJobs+j.ScanID, j.ID); err != nil {
			return "", fmt.Errorf("tasks: track job under scan: %w", err)
		}
	}
	return j.ID, nil
}

// Dequeue blocks up to timeout for a job id, then marks it started and
// returns it. Returns (nil, nil) on timeout with nothing queued.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.ns.Client().BLPop(ctx, timeout, keyQueueList).Result()
	if err != nil {
		if strings.Contains(err.Error(), "redis: nil") {
			return nil, nil
		}
		return nil, fmt.Errorf("tasks: blpop: %w", err)
	}
	if len(res) < 2 {
		return nil, nil
	}
	id := res[1]
	j, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Status = StatusStarted
	j.StartedAt = time.Now().UTC()
	if err := q.save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob loads a job by id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, ok, err := q.ns.Get(ctx, keyJobPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("tasks: decode job %s: %w", id, err)
	}
	return &j, nil
}

func (q *Queue) save(ctx context.Context, j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("tasks: marshal job: %w", err)
	}
	return q.ns.Set(ctx, keyJobPrefix+j.ID, data, j.ResultTTL)
}

// Complete marks a job finished.
func (q *Queue) Complete(ctx context.Context, id string) error {
	j, err := q.GetJob(ctx, id)
	if err != nil {
		return err
	}
	j.Status = StatusFinished
	j.FinishedAt = time.Now().UTC()
	return q.save(ctx, j)
}

// Fail marks a job failed with reason.
func (q *Queue) Fail(ctx context.Context, id string, reason error) error {
	j, err := q.GetJob(ctx, id)
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	if reason != nil {
		j.Error = reason.Error()
	}
	j.FinishedAt = time.Now().UTC()
	return q.save(ctx, j)
}

// ListByScan returns every job ever enqueued for scanID, used by the
// coordinator drain loop (spec.md §4.6 phase 5).
func (q *Queue) ListByScan(ctx context.Context, scanID string) ([]*Job, error) {
	ids, err := q.ns.SMembers(ctx, keyScanJobs+scanID)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue // result-ttl expired; treat as already reaped
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Heartbeat registers workerID as alive. Called periodically by Worker.
func (q *Queue) Heartbeat(ctx context.Context, workerID string) error {
	return q.ns.Client().ZAdd(ctx, keyWorkers, redis.Z{Score: float64(time.Now().Unix()), Member: workerID}).Err()
}

// QueueDepth reports the number of jobs waiting to be dequeued, used by
// the queue_depth gauge (spec.md §4.6 admin surface).
func (q *Queue) QueueDepth(ctx context.Context) (int64, error) {
	return q.ns.Client().LLen(ctx, keyQueueList).Result()
}

// ActiveWorkers counts workers whose last heartbeat is within workerTTL,
// used by the coordinator's worker-readiness phase (spec.md §4.6 phase 3).
func (q *Queue) ActiveWorkers(ctx context.Context) (int, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-workerTTL).Unix(), 10)
	n, err := q.ns.Client().ZCount(ctx, keyWorkers, "("+cutoff, "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
