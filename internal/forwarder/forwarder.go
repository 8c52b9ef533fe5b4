// Package forwarder implements the Gateway's lease/attempt/retry loop:
// drain staged items, write them to the remote document store, and
// complete, reschedule, or discard each one depending on the response.
package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tagbridge/internal/docstore"
	"tagbridge/internal/logging"
	"tagbridge/internal/metrics"
	"tagbridge/internal/staging"
)

// Backoff parameters per spec.md §4.H.
const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Second
	maxAttempts = 5
)

// Leaser is the staging queue surface the Forwarder drains. Satisfied
// by internal/staging.Store.
type Leaser interface {
	LeaseReady(ctx context.Context, now time.Time, max int) ([]staging.Item, error)
	Complete(ctx context.Context, item staging.Item) error
	Reschedule(ctx context.Context, item staging.Item, nextRetryAt time.Time, attempts int) error
	Discard(ctx context.Context, item staging.Item, reason string) error
}

// Writer creates documents at the remote store. Satisfied by
// internal/docstore's DocumentStore (only the Create method is needed,
// narrowed here so the Forwarder never depends on the concrete HTTP
// client, per spec.md §9's "interface the client satisfies" note).
type Writer interface {
	Create(ctx context.Context, path string, doc any) error
}

// AuthProvider exposes the credential context and refresh trigger the
// Forwarder needs. Satisfied by internal/auth.Manager.
type AuthProvider interface {
	Location() string
	Company() string
	TriggerRefresh(ctx context.Context) error
}

// Config configures a Forwarder.
type Config struct {
	Leaser       Leaser
	Writer       Writer
	Auth         AuthProvider
	Concurrency  int
	LeaseBatch   int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Stats are the Forwarder's outcome counters.
type Stats struct {
	Completed    int64
	Rescheduled  int64
	AuthFailures int64
	MaxAttempts  int64
	Permanent    int64
}

// Forwarder drains the staging queue with bounded concurrency.
type Forwarder struct {
	leaser       Leaser
	writer       Writer
	auth         AuthProvider
	concurrency  int
	leaseBatch   int
	pollInterval time.Duration
	logger       *slog.Logger

	mu             sync.Mutex
	authFailedOnce map[string]bool

	stats Stats
	statsMu sync.Mutex
}

// New constructs a Forwarder. Concurrency and LeaseBatch default to 4
// and 32 respectively if unset.
func New(cfg Config) *Forwarder {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	leaseBatch := cfg.LeaseBatch
	if leaseBatch <= 0 {
		leaseBatch = 32
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Forwarder{
		leaser:         cfg.Leaser,
		writer:         cfg.Writer,
		auth:           cfg.Auth,
		concurrency:    concurrency,
		leaseBatch:     leaseBatch,
		pollInterval:   pollInterval,
		logger:         logging.Default(cfg.Logger).With("component", "forwarder"),
		authFailedOnce: make(map[string]bool),
	}
}

// Run leases and attempts items until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.drainOnce(ctx); err != nil {
				f.logger.Error("drain failed", "error", err)
			}
		}
	}
}

func (f *Forwarder) drainOnce(ctx context.Context) error {
	items, err := f.leaser.LeaseReady(ctx, time.Now(), f.leaseBatch)
	if err != nil {
		return fmt.Errorf("forwarder: lease: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			f.attempt(gctx, item)
			return nil
		})
	}
	return g.Wait()
}

// attempt writes one item and applies the response-classification
// table from spec.md §4.H.
func (f *Forwarder) attempt(ctx context.Context, item staging.Item) {
	path := fmt.Sprintf("companies/%s/locations/%s/%s/%s", f.auth.Company(), f.auth.Location(), item.TargetPath, item.ID)

	err := f.writer.Create(ctx, path, json.RawMessage(item.Payload))
	switch {
	case err == nil, err == docstore.ErrAlreadyExists:
		f.complete(ctx, item)

	case docstore.IsAuthFailure(err):
		f.handleAuthFailure(ctx, item)

	case isPermanent(err):
		f.discard(ctx, item, "permanent")

	default:
		f.backoffRetry(ctx, item)
	}
}

// isPermanent reports whether err is a non-auth 4xx the store will
// never accept no matter how many times it's retried.
func isPermanent(err error) bool {
	var se *docstore.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500
}

func (f *Forwarder) handleAuthFailure(ctx context.Context, item staging.Item) {
	if err := f.auth.TriggerRefresh(ctx); err != nil {
		f.logger.Warn("token refresh after auth failure did not succeed", "error", err)
	}

	f.mu.Lock()
	first := !f.authFailedOnce[item.ID]
	f.authFailedOnce[item.ID] = true
	f.mu.Unlock()

	attempts := item.Attempts
	if !first {
		attempts++
	}
	f.incr(&f.stats.AuthFailures)
	if err := f.leaser.Reschedule(ctx, item, time.Now(), attempts); err != nil {
		f.logger.Error("reschedule after auth failure failed", "error", err, "item", item.ID)
	}
}

func (f *Forwarder) backoffRetry(ctx context.Context, item staging.Item) {
	attempts := item.Attempts + 1
	if attempts >= maxAttempts {
		f.discard(ctx, item, "max_attempts")
		f.incr(&f.stats.MaxAttempts)
		metrics.MaxAttemptsDiscardsTotal.Inc()
		return
	}
	delay := backoff(attempts)
	f.incr(&f.stats.Rescheduled)
	if err := f.leaser.Reschedule(ctx, item, time.Now().Add(delay), attempts); err != nil {
		f.logger.Error("reschedule failed", "error", err, "item", item.ID)
	}
}

func (f *Forwarder) complete(ctx context.Context, item staging.Item) {
	f.mu.Lock()
	delete(f.authFailedOnce, item.ID)
	f.mu.Unlock()
	f.incr(&f.stats.Completed)
	if err := f.leaser.Complete(ctx, item); err != nil {
		f.logger.Error("complete failed", "error", err, "item", item.ID)
	}
}

func (f *Forwarder) discard(ctx context.Context, item staging.Item, reason string) {
	f.mu.Lock()
	delete(f.authFailedOnce, item.ID)
	f.mu.Unlock()
	if reason == "permanent" {
		f.incr(&f.stats.Permanent)
	}
	if err := f.leaser.Discard(ctx, item, reason); err != nil {
		f.logger.Error("discard failed", "error", err, "item", item.ID, "reason", reason)
	}
}

// backoff computes min(base * 2^(attempts-1), max), per spec.md §4.H.
func backoff(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

func (f *Forwarder) incr(counter *int64) {
	f.statsMu.Lock()
	*counter++
	f.statsMu.Unlock()
}

// Stats returns a snapshot of the outcome counters.
func (f *Forwarder) Stats() Stats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}
