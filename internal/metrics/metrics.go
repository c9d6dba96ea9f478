// Package metrics exposes the prometheus gauges the /metrics endpoint
// serves (spec.md §6.1), polled from the store rather than pushed off
// an event bus.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/seznam/gsast-go/internal/coordinator"
	"github.com/seznam/gsast-go/internal/tasks"
)

var registerOnce sync.Once

// Register wires GaugeFuncs that poll store/tasks on each scrape. It is
// safe to call more than once; only the first call takes effect.
func Register(admin *coordinator.Admin, q *tasks.Queue) {
	registerOnce.Do(func() {
		if admin == nil || q == nil {
			return
		}

		prometheus.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "gsast",
				Name:      "queue_depth",
				Help:      "Number of jobs waiting to be dequeued by a worker.",
			}, func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				n, err := q.QueueDepth(ctx)
				if err != nil {
					return 0
				}
				return float64(n)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "gsast",
				Name:      "active_workers",
				Help:      "Number of workers with a heartbeat inside the TTL window.",
			}, func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				n, err := q.ActiveWorkers(ctx)
				if err != nil {
					return 0
				}
				return float64(n)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "gsast",
				Name:      "tracked_scans",
				Help:      "Number of scan records currently stored in the scans namespace.",
			}, func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				ids, err := admin.ListScans(ctx)
				if err != nil {
					return 0
				}
				return float64(len(ids))
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "gsast",
				Name:      "active_scans",
				Help:      "Number of scan records whose status is still \"started\".",
			}, func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				n, err := activeScanCount(ctx, admin)
				if err != nil {
					return 0
				}
				return float64(n)
			}),
		)
	})
}

func activeScanCount(ctx context.Context, admin *coordinator.Admin) (int, error) {
	ids, err := admin.ListScans(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		rec, ok, err := admin.Record(ctx, id)
		if err != nil {
			return 0, err
		}
		if ok && rec.Status == coordinator.StatusStarted {
			n++
		}
	}
	return n, nil
}
