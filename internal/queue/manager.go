// Package queue wraps the two-priority Redis message queue behind a
// visibility-lease manager. A claim makes a message invisible to other
// workers for one lease duration; a periodic sweep keeps extending the
// leases of every message still being processed, so a crashed worker only
// ever strands a message for one lease duration.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Priority identifies which of the two queues a message came from.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Message is one claimed queue entry. Handle is the queue-side token used
// for all later operations on the message.
type Message struct {
	Handle   string
	Body     []byte
	Priority Priority
}

// Stats is the aggregate view served on /stats.
type Stats struct {
	HighPriorityDepth int64 `json:"high_priority_depth"`
	LowPriorityDepth  int64 `json:"low_priority_depth"`
	InFlight          int64 `json:"in_flight"`
	TrackedLeases     int   `json:"tracked_leases"`
}

type leaseEntry struct {
	queue     string
	claimedAt time.Time
}

// Manager owns the lease set. Handles are tracked after a successful claim
// and untracked before the queue-side remove or requeue, so the sweep never
// extends a lease for a message that is already finished.
type Manager struct {
	brk   broker
	log   *zap.Logger
	high  string
	low   string
	lease time.Duration

	mu     sync.Mutex
	leases map[string]leaseEntry

	inFlight atomic.Int64
}

func NewManager(rdb *r.Client, high, low string, lease time.Duration, log *zap.Logger) *Manager {
	return newManager(newRedisBroker(rdb), high, low, lease, log)
}

func newManager(brk broker, high, low string, lease time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		brk:    brk,
		log:    log,
		high:   high,
		low:    low,
		lease:  lease,
		leases: make(map[string]leaseEntry),
	}
}

// ClaimNext polls the high-priority queue first, then the low-priority one.
// It never blocks: when both queues are momentarily empty it returns
// (nil, nil).
func (m *Manager) ClaimNext(ctx context.Context) (*Message, error) {
	for _, q := range []struct {
		key string
		pri Priority
	}{{m.high, PriorityHigh}, {m.low, PriorityLow}} {
		handle, body, ok, err := m.brk.Claim(ctx, q.key, m.lease)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Message{Handle: handle, Body: []byte(body), Priority: q.pri}, nil
		}
	}
	return nil, nil
}

// Track inserts the message into the lease set. Tracking an already-tracked
// handle is a no-op.
func (m *Manager) Track(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leases[msg.Handle]; ok {
		return
	}
	m.leases[msg.Handle] = leaseEntry{queue: m.queueFor(msg.Priority), claimedAt: time.Now().UTC()}
}

// RenewAll extends the visibility of every tracked handle by one lease
// duration. The lease set is snapshotted under the lock and the renewals run
// outside it, so a handle untracked mid-sweep may still get one in-flight
// extend call; that call failing (message already gone) is expected and
// only logged.
func (m *Manager) RenewAll(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]leaseEntry, len(m.leases))
	for h, e := range m.leases {
		snapshot[h] = e
	}
	m.mu.Unlock()

	for handle, entry := range snapshot {
		extended, err := m.brk.Extend(ctx, entry.queue, handle, m.lease)
		if err != nil {
			m.log.Warn("lease renewal failed", zap.String("handle", handle), zap.Error(err))
			continue
		}
		if !extended {
			m.log.Debug("lease renewal skipped, message gone", zap.String("handle", handle))
		}
	}
}

// Sweep runs RenewAll on a fixed interval until ctx is done.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RenewAll(ctx)
		}
	}
}

// Remove deletes the message permanently and untracks it. Idempotent.
func (m *Manager) Remove(ctx context.Context, handle string) error {
	for _, q := range m.untrack(handle) {
		if err := m.brk.Delete(ctx, q, handle); err != nil {
			return err
		}
	}
	return nil
}

// Requeue makes the message immediately visible again and untracks it, so
// another claim can pick it up right away.
func (m *Manager) Requeue(ctx context.Context, handle string) error {
	for _, q := range m.untrack(handle) {
		if err := m.brk.Release(ctx, q, handle); err != nil {
			return err
		}
	}
	return nil
}

// untrack drops the handle from the lease set and reports which queues the
// follow-up broker call should target. An untracked handle could sit in
// either queue, so both are tried.
func (m *Manager) untrack(handle string) []string {
	m.mu.Lock()
	entry, ok := m.leases[handle]
	delete(m.leases, handle)
	m.mu.Unlock()
	if ok {
		return []string{entry.queue}
	}
	return []string{m.high, m.low}
}

// AdjustInFlight moves the in-flight job counter by delta and returns the
// new value. The counter is observational; admission control happens in the
// pipeline's claim loop.
func (m *Manager) AdjustInFlight(delta int64) int64 {
	return m.inFlight.Add(delta)
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	high, err := m.brk.Depth(ctx, m.high)
	if err != nil {
		return Stats{}, err
	}
	low, err := m.brk.Depth(ctx, m.low)
	if err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	tracked := len(m.leases)
	m.mu.Unlock()
	return Stats{
		HighPriorityDepth: high,
		LowPriorityDepth:  low,
		InFlight:          m.inFlight.Load(),
		TrackedLeases:     tracked,
	}, nil
}

func (m *Manager) queueFor(p Priority) string {
	if p == PriorityHigh {
		return m.high
	}
	return m.low
}
