package remoteconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"tagbridge/internal/logging"
)

// SnapshotKey is the well-known Redis key the Gateway publishes the
// live location-configuration snapshot to, and the Ingestor polls it
// from. The Ingestor holds no document-store credentials of its own
// (spec.md §6 marks INVITATION_CODE gateway-only), so the snapshot
// crosses the process boundary over the same Redis instance the
// staging queue already uses rather than over a second authenticated
// channel.
const SnapshotKey = "tagbridge:config:snapshot"

// RedisSource implements Source by reading the snapshot the Gateway
// last published. companyID and location are accepted for interface
// parity but unused: one Redis instance backs exactly one
// Ingestor/Gateway pair, provisioned for a single location.
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource returns a Source backed by client.
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// FetchLocationConfig reads and decodes the published snapshot.
func (s *RedisSource) FetchLocationConfig(ctx context.Context, companyID, location string) (Snapshot, error) {
	data, err := s.client.Get(ctx, SnapshotKey).Bytes()
	if err != nil {
		return Snapshot{}, fmt.Errorf("remoteconfig: read published snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("remoteconfig: decode published snapshot: %w", err)
	}
	return snap, nil
}

// PublishingSource wraps a Source that talks to the real document
// store and republishes every successful fetch to Redis, so the
// Ingestor's RedisSource observes the same snapshot.
type PublishingSource struct {
	inner  Source
	client *redis.Client
	logger *slog.Logger
}

// NewPublishingSource returns a Source that relays inner's fetches to
// Redis under SnapshotKey.
func NewPublishingSource(inner Source, client *redis.Client, logger *slog.Logger) *PublishingSource {
	return &PublishingSource{
		inner:  inner,
		client: client,
		logger: logging.Default(logger).With("component", "remoteconfig"),
	}
}

// FetchLocationConfig delegates to inner, then best-effort publishes
// the result. A publish failure is logged, not returned: the
// Gateway's own Subscriber must not treat it as a fetch failure.
func (s *PublishingSource) FetchLocationConfig(ctx context.Context, companyID, location string) (Snapshot, error) {
	snap, err := s.inner.FetchLocationConfig(ctx, companyID, location)
	if err != nil {
		return Snapshot{}, err
	}
	data, merr := json.Marshal(snap)
	if merr != nil {
		s.logger.Error("marshal snapshot for publish failed", "error", merr)
		return snap, nil
	}
	if err := s.client.Set(ctx, SnapshotKey, data, 0).Err(); err != nil {
		s.logger.Warn("publish snapshot to redis failed", "error", err)
	}
	return snap, nil
}
