// Package memqueue implements the in-process fallback staging backend
// used while the durable store is unreachable. Grounded on the
// teacher's config/memory Store: a mutex-guarded in-memory structure,
// not persisted across restarts.
package memqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tagbridge/internal/staging"

	"github.com/google/uuid"
)

// Queue is a bounded, mutex-guarded in-memory staging.Queue.
type Queue struct {
	mu       sync.Mutex
	items    map[string]staging.Item
	leased   map[string]bool
	capacity int
}

// New returns an empty Queue bounded to capacity items. capacity <= 0
// means no items are ever admitted (every Enqueue returns false).
func New(capacity int) *Queue {
	return &Queue{
		items:    make(map[string]staging.Item),
		leased:   make(map[string]bool),
		capacity: capacity,
	}
}

// Enqueue admits item, rejecting (false, nil) once capacity items are
// already held. The size check never fails open per spec.md §4.D.
func (q *Queue) Enqueue(ctx context.Context, item staging.Item) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return false, nil
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.items[item.ID] = item
	return true, nil
}

// LeaseReady returns up to max non-leased items whose NextRetryAt is
// due, ordered by NextRetryAt ascending, and marks them leased so a
// concurrent call cannot double-lease them.
func (q *Queue) LeaseReady(ctx context.Context, now time.Time, max int) ([]staging.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []staging.Item
	for id, item := range q.items {
		if q.leased[id] {
			continue
		}
		if item.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, item)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextRetryAt.Before(candidates[j].NextRetryAt)
	})
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	for _, item := range candidates {
		q.leased[item.ID] = true
	}
	return candidates, nil
}

// Complete removes item id. Idempotent.
func (q *Queue) Complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	delete(q.leased, id)
	return nil
}

// Reschedule updates attempts and NextRetryAt and releases the lease.
func (q *Queue) Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("memqueue: item %s not found", id)
	}
	item.Attempts = attempts
	item.NextRetryAt = nextRetryAt
	q.items[id] = item
	delete(q.leased, id)
	return nil
}

// Discard removes item id permanently. reason is accepted for interface
// parity but not recorded: the in-process fallback keeps no audit log.
func (q *Queue) Discard(ctx context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
	delete(q.leased, id)
	return nil
}

// Stats reports occupancy against the configured capacity.
func (q *Queue) Stats(ctx context.Context) (staging.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ready := 0
	now := time.Now()
	for _, item := range q.items {
		if !item.NextRetryAt.After(now) {
			ready++
		}
	}
	var capacityPct float64
	if q.capacity > 0 {
		capacityPct = float64(len(q.items)) / float64(q.capacity) * 100
	}
	return staging.Stats{
		Size:        len(q.items),
		Ready:       ready,
		CapacityPct: capacityPct,
		DurableUp:   false,
	}, nil
}
