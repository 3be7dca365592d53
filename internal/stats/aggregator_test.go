package stats

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeStatsStore struct {
	mu      sync.Mutex
	byKey   map[int64]Delta
	failing bool
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{byKey: map[int64]Delta{}}
}

func (s *fakeStatsStore) IncrementStats(_ context.Context, bucket int64, d Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return fmt.Errorf("document store unavailable")
	}
	cur := s.byKey[bucket]
	cur.Succeeded += d.Succeeded
	cur.Failed += d.Failed
	cur.Canceled += d.Canceled
	cur.Seconds += d.Seconds
	s.byKey[bucket] = cur
	return nil
}

func (s *fakeStatsStore) get(bucket int64) Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[bucket]
}

func TestRecordSuccessPersistsBothBuckets(t *testing.T) {
	store := newFakeStatsStore()
	agg := New(store, zap.NewNop())

	agg.RecordSuccess(90 * time.Second)
	agg.Wait()

	hour := time.Now().UTC().Unix() / 3600
	for _, bucket := range []int64{hour, LifetimeBucket} {
		d := store.get(bucket)
		if d.Succeeded != 1 {
			t.Fatalf("bucket %d: expected 1 success, got %+v", bucket, d)
		}
		if d.Seconds != 90 {
			t.Fatalf("bucket %d: expected 90 slicing seconds, got %v", bucket, d.Seconds)
		}
	}
}

func TestSnapshotReflectsCounters(t *testing.T) {
	agg := New(newFakeStatsStore(), zap.NewNop())

	agg.RecordSuccess(30 * time.Second)
	agg.RecordSuccess(15 * time.Second)
	agg.RecordFailure()
	agg.RecordSlicerFailure()
	agg.RecordCanceled()
	agg.Wait()

	s := agg.Snapshot()
	if s.Succeeded != 2 || s.Failed != 1 || s.FailedSlicing != 1 || s.Canceled != 1 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if s.SlicingSeconds != 45 {
		t.Fatalf("expected 45 slicing seconds, got %v", s.SlicingSeconds)
	}
}

func TestSlicerFailurePersistsAsFailed(t *testing.T) {
	store := newFakeStatsStore()
	agg := New(store, zap.NewNop())

	agg.RecordSlicerFailure()
	agg.Wait()

	if d := store.get(LifetimeBucket); d.Failed != 1 {
		t.Fatalf("slicer failure should persist into slicing_failed, got %+v", d)
	}
}

func TestPersistFailureOnlyLogged(t *testing.T) {
	store := newFakeStatsStore()
	store.failing = true
	agg := New(store, zap.NewNop())

	agg.RecordFailure()
	agg.Wait()

	// In-memory counter still advanced; the persisted write is best-effort.
	if s := agg.Snapshot(); s.Failed != 1 {
		t.Fatalf("expected in-memory counter despite store failure, got %+v", s)
	}
}

func TestConcurrentRecording(t *testing.T) {
	store := newFakeStatsStore()
	agg := New(store, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.RecordSuccess(time.Second)
			agg.RecordFailure()
		}()
	}
	wg.Wait()
	agg.Wait()

	s := agg.Snapshot()
	if s.Succeeded != 25 || s.Failed != 25 {
		t.Fatalf("expected 25/25, got %+v", s)
	}
	if d := store.get(LifetimeBucket); d.Succeeded != 25 || d.Failed != 25 {
		t.Fatalf("lifetime bucket mismatch: %+v", d)
	}
}
