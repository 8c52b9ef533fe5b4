// Package staging implements the durable, bounded, time-ordered
// pending-work queue fed by the Ingestor and drained by the Forwarder.
package staging

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tagbridge/internal/logging"
)

// DefaultTTL is the minimum durability window for a staged item.
const DefaultTTL = 7 * 24 * time.Hour

// Origin marks which backend a leased Item came from, so Complete,
// Reschedule, and Discard route back to that same backend instead of
// guessing durable-first: a fallback-origin item leased before the
// reconciler has migrated it into durable must never be written back
// against durable, which would silently fabricate a phantom entry for
// an id durable has no record of.
type Origin int

const (
	// OriginUnknown is the zero value: an Item built directly (e.g. by
	// Enqueue) rather than returned from LeaseReady.
	OriginUnknown Origin = iota
	OriginDurable
	OriginFallback
)

// Item is a single unit of pending-work: a target collection plus an
// opaque payload, tracked through its retry lifecycle.
type Item struct {
	ID          string
	TargetPath  string
	Payload     []byte
	Attempts    int
	AddedAt     time.Time
	NextRetryAt time.Time
	ExpiresAt   time.Time
	Origin      Origin
}

// Stats reports queue occupancy for the /api/redis/status control
// endpoint and for capacity decisions.
type Stats struct {
	Size          int
	Ready         int
	CapacityPct   float64
	MemoryPct     float64
	DurableUp     bool
	FallbackItems int
}

// Queue is the durable or in-process backend a Store composes.
// Enqueue returning (false, nil) means the backend rejected the item on
// capacity grounds, not an I/O failure: callers must treat that
// distinctly from an error.
type Queue interface {
	Enqueue(ctx context.Context, item Item) (bool, error)
	LeaseReady(ctx context.Context, now time.Time, max int) ([]Item, error)
	Complete(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error
	Discard(ctx context.Context, id string, reason string) error
	Stats(ctx context.Context) (Stats, error)
}

// Limits bounds a Store's capacity policy.
type Limits struct {
	MaxQueueSize int
	MaxMemoryMB  int64
}

// Store composes a durable backend with an in-process fallback per
// spec.md §4.D's Availability Fallback: while the durable backend is
// unreachable, new items land in the fallback, bounded by the same
// capacity limit; once the durable backend returns, new items resume
// going there and a background goroutine reconciles the fallback's
// backlog into it.
type Store struct {
	durable  Queue
	fallback Queue
	limits   Limits
	log      *slog.Logger

	durableUp atomic.Bool

	reconcileOnce sync.Once
	stopC         chan struct{}
	wg            sync.WaitGroup
}

// New returns a Store that prefers durable and falls back to fallback
// when durable reports an error. durable is assumed reachable until an
// operation against it fails.
func New(durable, fallback Queue, limits Limits, logger *slog.Logger) *Store {
	s := &Store{
		durable:  durable,
		fallback: fallback,
		limits:   limits,
		log:      logging.Default(logger),
		stopC:    make(chan struct{}),
	}
	s.durableUp.Store(true)
	return s
}

// Run starts the background reconciliation loop that drains the
// fallback into the durable backend once it becomes reachable again.
// Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopC:
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Stop signals Run to return.
func (s *Store) Stop() {
	s.reconcileOnce.Do(func() { close(s.stopC) })
}

// leaseReaper is implemented by backends that track lease expiry and
// can return abandoned leases (a Forwarder that leased an item, then
// crashed or restarted before completing it) to the ready set. Optional:
// memqueue doesn't implement it, since an in-process restart already
// clears its entire state.
type leaseReaper interface {
	ReapExpiredLeases(ctx context.Context, now time.Time) error
}

// reconcile reaps abandoned leases, then drains fallback items into the
// durable backend once it is marked reachable again; it makes durable
// reachability probing itself, since a quiet Store (no Enqueue calls)
// would otherwise never notice recovery.
func (s *Store) reconcile(ctx context.Context) {
	if lr, ok := s.durable.(leaseReaper); ok {
		if err := lr.ReapExpiredLeases(ctx, time.Now()); err != nil {
			s.log.Warn("reap expired leases failed", "error", err)
		}
	}

	if !s.probeDurable(ctx) {
		return
	}
	for {
		items, err := s.fallback.LeaseReady(ctx, time.Now(), 32)
		if err != nil || len(items) == 0 {
			return
		}
		for _, item := range items {
			ok, err := s.durable.Enqueue(ctx, item)
			if err != nil {
				s.durableUp.Store(false)
				return
			}
			if ok {
				_ = s.fallback.Complete(ctx, item.ID)
			} else {
				_ = s.fallback.Discard(ctx, item.ID, "durable_capacity")
			}
		}
	}
}

func (s *Store) probeDurable(ctx context.Context) bool {
	_, err := s.durable.Stats(ctx)
	up := err == nil
	s.durableUp.Store(up)
	return up
}

// Enqueue admits item to the durable backend, falling back transparently
// on durable failure. The capacity check (size and memory) is enforced
// by whichever backend ultimately receives the item; a false return
// means rejection, never an error.
func (s *Store) Enqueue(ctx context.Context, target string, payload []byte) (bool, error) {
	item := Item{
		TargetPath:  target,
		Payload:     payload,
		AddedAt:     time.Now(),
		NextRetryAt: time.Now(),
		ExpiresAt:   time.Now().Add(DefaultTTL),
	}

	if s.durableUp.Load() {
		ok, err := s.durable.Enqueue(ctx, item)
		if err == nil {
			return ok, nil
		}
		s.log.Warn("durable staging backend unreachable, falling back", "error", err)
		s.durableUp.Store(false)
	}

	ok, err := s.fallback.Enqueue(ctx, item)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// LeaseReady returns up to max items with next_retry_at <= now from
// both backends (durable is asked first, fallback fills the remainder),
// merged in non-decreasing next_retry_at order.
// Each returned item is tagged with the backend it was leased from, so
// a later Complete/Reschedule/Discard routes back to that same backend.
func (s *Store) LeaseReady(ctx context.Context, now time.Time, max int) ([]Item, error) {
	var out []Item
	if items, err := s.durable.LeaseReady(ctx, now, max); err == nil {
		for _, item := range items {
			item.Origin = OriginDurable
			out = append(out, item)
		}
	} else {
		s.durableUp.Store(false)
	}
	if len(out) < max {
		if items, err := s.fallback.LeaseReady(ctx, now, max-len(out)); err == nil {
			for _, item := range items {
				item.Origin = OriginFallback
				out = append(out, item)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(out[j].NextRetryAt)
	})
	return out, nil
}

// backendFor returns the Queue item was leased from. Called only on
// items returned by LeaseReady, whose Origin is always set.
func (s *Store) backendFor(item Item) Queue {
	if item.Origin == OriginFallback {
		return s.fallback
	}
	return s.durable
}

// Complete marks an item as successfully delivered. Idempotent: a second
// Complete for the same id is a no-op.
func (s *Store) Complete(ctx context.Context, item Item) error {
	return s.backendFor(item).Complete(ctx, item.ID)
}

// Reschedule advances attempts and sets the next retry instant.
func (s *Store) Reschedule(ctx context.Context, item Item, nextRetryAt time.Time, attempts int) error {
	return s.backendFor(item).Reschedule(ctx, item.ID, attempts, nextRetryAt)
}

// Discard removes an item permanently. reason is passed to the backend,
// which does not store it.
func (s *Store) Discard(ctx context.Context, item Item, reason string) error {
	return s.backendFor(item).Discard(ctx, item.ID, reason)
}

// Stats merges durable and fallback occupancy.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var merged Stats
	if ds, err := s.durable.Stats(ctx); err == nil {
		merged = ds
		merged.DurableUp = true
	} else {
		merged.DurableUp = false
	}
	if fs, err := s.fallback.Stats(ctx); err == nil {
		merged.FallbackItems = fs.Size
		merged.Size += fs.Size
		merged.Ready += fs.Ready
	}
	return merged, nil
}
