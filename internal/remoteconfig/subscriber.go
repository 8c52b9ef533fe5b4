package remoteconfig

import (
	"context"
	"log/slog"
	"time"

	"tagbridge/internal/logging"
)

// ReconnectBackoff is the delay before retrying after a fetch error,
// per spec.md §4.F.
const ReconnectBackoff = 5 * time.Second

// Source fetches the current location configuration from the remote
// document store. Implemented by docstore.ConfigSource and by this
// package's RedisSource and PublishingSource; kept
// as an interface here to avoid a dependency cycle between the
// subscriber and the store client, per the teacher's "interface the
// client satisfies" design note (spec.md §9).
type Source interface {
	FetchLocationConfig(ctx context.Context, companyID, location string) (Snapshot, error)
}

// Subscriber polls a Source and keeps a Store's snapshot current.
type Subscriber struct {
	source       Source
	store        *Store
	companyID    string
	location     string
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewSubscriber returns a Subscriber that feeds store from source,
// polling at pollInterval under normal conditions.
func NewSubscriber(source Source, store *Store, companyID, location string, pollInterval time.Duration, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		source:       source,
		store:        store,
		companyID:    companyID,
		location:     location,
		pollInterval: pollInterval,
		logger:       logging.Default(logger).With("component", "remoteconfig"),
	}
}

// Run fetches snapshots until ctx is cancelled. The snapshot survives
// transient fetch errors: Store.Current() keeps returning the last
// known good value. On error, Run waits ReconnectBackoff before the
// next attempt instead of pollInterval.
func (sub *Subscriber) Run(ctx context.Context) {
	for {
		next, err := sub.source.FetchLocationConfig(ctx, sub.companyID, sub.location)
		wait := sub.pollInterval
		if err != nil {
			sub.logger.Warn("fetch location config failed, keeping last known good snapshot", "error", err)
			wait = ReconnectBackoff
		} else if sub.store.Apply(next) {
			sub.logger.Info("location config updated",
				"deduplicate", next.Deduplicate,
				"deduplicate_interval_minutes", next.DeduplicateIntervalMinutes,
				"reporting", next.Reporting,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
