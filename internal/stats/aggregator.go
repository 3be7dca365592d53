// Package stats keeps the process-wide outcome counters and mirrors each
// outcome into the document store's hourly and lifetime aggregates. The
// persisted writes are detached best-effort tasks: their failures are
// observed only in the log, never by the pipeline.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LifetimeBucket is the reserved bucket key for the all-time aggregate.
const LifetimeBucket int64 = 0

const persistTimeout = 10 * time.Second

// Delta is one outcome's contribution to a persisted aggregate bucket.
type Delta struct {
	Succeeded int64
	Failed    int64
	Canceled  int64
	Seconds   float64
}

// StatsStore persists one bucket increment.
type StatsStore interface {
	IncrementStats(ctx context.Context, bucket int64, d Delta) error
}

// Snapshot is the in-memory counter view served on /stats. Counters reset
// only on process restart.
type Snapshot struct {
	Succeeded      int64   `json:"succeeded"`
	Failed         int64   `json:"failed"`
	FailedSlicing  int64   `json:"failed_slicing"`
	Canceled       int64   `json:"canceled"`
	SlicingSeconds float64 `json:"slicing_seconds"`
}

type Aggregator struct {
	store StatsStore
	log   *zap.Logger

	succeeded     atomic.Int64
	failed        atomic.Int64
	failedSlicing atomic.Int64
	canceled      atomic.Int64
	slicingMS     atomic.Int64

	detached sync.WaitGroup
}

func New(store StatsStore, log *zap.Logger) *Aggregator {
	return &Aggregator{store: store, log: log}
}

func (a *Aggregator) RecordSuccess(sliced time.Duration) {
	a.succeeded.Add(1)
	a.slicingMS.Add(sliced.Milliseconds())
	a.persist(Delta{Succeeded: 1, Seconds: sliced.Seconds()})
}

// RecordFailure counts a transient (requeued) failure.
func (a *Aggregator) RecordFailure() {
	a.failed.Add(1)
	a.persist(Delta{Failed: 1})
}

// RecordSlicerFailure counts a model rejected by the slicing engine. The
// persisted aggregate folds it into slicing_failed; only the in-memory view
// distinguishes the two failure kinds.
func (a *Aggregator) RecordSlicerFailure() {
	a.failedSlicing.Add(1)
	a.persist(Delta{Failed: 1})
}

func (a *Aggregator) RecordCanceled() {
	a.canceled.Add(1)
	a.persist(Delta{Canceled: 1})
}

func (a *Aggregator) Snapshot() Snapshot {
	return Snapshot{
		Succeeded:      a.succeeded.Load(),
		Failed:         a.failed.Load(),
		FailedSlicing:  a.failedSlicing.Load(),
		Canceled:       a.canceled.Load(),
		SlicingSeconds: float64(a.slicingMS.Load()) / 1000,
	}
}

// Wait blocks until all detached persistence tasks have finished. Used on
// shutdown and in tests.
func (a *Aggregator) Wait() {
	a.detached.Wait()
}

func (a *Aggregator) persist(d Delta) {
	hour := time.Now().UTC().Unix() / 3600
	a.detached.Add(1)
	go func() {
		defer a.detached.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		for _, bucket := range []int64{hour, LifetimeBucket} {
			if err := a.store.IncrementStats(ctx, bucket, d); err != nil {
				a.log.Warn("stats increment failed", zap.Int64("bucket", bucket), zap.Error(err))
			}
		}
	}()
}
