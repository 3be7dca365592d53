package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/you/slicerd/internal/queue"
	"github.com/you/slicerd/internal/workspace"
)

// claimableQueue serves a fixed batch of messages, then reports empty.
type claimableQueue struct {
	*fakeQueue
	mu      sync.Mutex
	pending []*queue.Message
}

func (q *claimableQueue) ClaimNext(context.Context) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, nil
}

// gatedSlicer blocks every invocation until released, counting how many run
// at once.
type gatedSlicer struct {
	gate    chan struct{}
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (s *gatedSlicer) Slice(ctx context.Context, _, _, _ string) error {
	n := s.active.Add(1)
	for {
		prev := s.maxSeen.Load()
		if n <= prev || s.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	defer s.active.Add(-1)
	select {
	case <-s.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRunEnforcesConcurrencyBound(t *testing.T) {
	const jobs = 5
	q := &claimableQueue{fakeQueue: newFakeQueue()}
	for i := 0; i < jobs; i++ {
		msg := message(t, map[string]string{"handle": "h-run"})
		msg.Handle = "h-run"
		q.pending = append(q.pending, msg)
	}

	sl := &gatedSlicer{gate: make(chan struct{})}
	rep := &fakeReporter{}
	rec := &fakeRecorder{}
	proc := New(q, rep, &fakeStore{}, sl, workspace.New(t.TempDir()), rec, zap.NewNop(),
		Options{PollInterval: 5 * time.Millisecond, MaxConcurrent: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = proc.Run(ctx)
		close(done)
	}()

	// Give the loop time to claim as much as it is willing to.
	deadline := time.After(2 * time.Second)
	for sl.active.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("pipeline never reached the concurrency bound")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(sl.gate)
	for {
		rec.mu.Lock()
		finished := rec.success
		rec.mu.Unlock()
		if finished == jobs {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of %d jobs finished", finished, jobs)
		case <-time.After(5 * time.Millisecond):
		}
	}

	if peak := sl.maxSeen.Load(); peak > 2 {
		t.Fatalf("concurrency bound violated: %d simultaneous slices", peak)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestRunStopsWhenIdle(t *testing.T) {
	q := &claimableQueue{fakeQueue: newFakeQueue()}
	proc := New(q, &fakeReporter{}, &fakeStore{}, &fakeSlicer{}, workspace.New(t.TempDir()), &fakeRecorder{}, zap.NewNop(),
		Options{PollInterval: time.Millisecond, MaxConcurrent: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = proc.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
