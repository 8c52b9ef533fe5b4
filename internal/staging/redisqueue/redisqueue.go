// Package redisqueue implements the durable staging backend against
// Redis. The external interface spec.md §6 names for the durable
// queue store (host/port/password/db, set-with-ttl, sorted-set range
// by score, list push/pop, counters, memory-usage introspection) is,
// verbatim, Redis's own wire contract, so the durable backend talks to
// Redis directly rather than through an abstracted key/value interface.
package redisqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tagbridge/internal/staging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey  = "tagbridge:staging:ready"
	leasedKey = "tagbridge:staging:leased"
	itemKeyFn = "tagbridge:staging:item:"

	leaseTimeout = time.Minute
)

// Config holds the connection and capacity parameters named in
// spec.md §6.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxQueueSize int
	MaxMemoryMB  int64
}

// Queue is a Redis-backed staging.Queue.
type Queue struct {
	client *redis.Client
	cfg    Config
}

// New returns a Queue dialed against cfg. Connectivity is not verified
// until the first operation.
func New(cfg Config) *Queue {
	return &Queue{
		client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg: cfg,
	}
}

// Close releases the underlying connection pool.
func (q *Queue) Close() error {
	return q.client.Close()
}

func itemKey(id string) string {
	return itemKeyFn + id
}

// Enqueue admits item once size and memory-usage checks pass. The size
// check never fails open; a failed memory probe fails open (admits),
// per spec.md §4.D.
func (q *Queue) Enqueue(ctx context.Context, item staging.Item) (bool, error) {
	size, err := q.client.ZCard(ctx, readyKey).Result()
	if err != nil {
		return false, fmt.Errorf("redisqueue: check size: %w", err)
	}
	leased, err := q.client.ZCard(ctx, leasedKey).Result()
	if err != nil {
		return false, fmt.Errorf("redisqueue: check leased size: %w", err)
	}
	if q.cfg.MaxQueueSize > 0 && size+leased >= int64(q.cfg.MaxQueueSize) {
		return false, nil
	}

	if q.cfg.MaxMemoryMB > 0 {
		if pct, err := q.memoryPct(ctx); err == nil && pct >= 100 {
			return false, nil
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	ttl := time.Until(item.ExpiresAt)
	if ttl <= 0 {
		ttl = staging.DefaultTTL
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, itemKey(item.ID), map[string]any{
		"target":        item.TargetPath,
		"payload":       string(item.Payload),
		"attempts":      item.Attempts,
		"added_at":      item.AddedAt.UnixNano(),
		"next_retry_at": item.NextRetryAt.UnixNano(),
	})
	pipe.Expire(ctx, itemKey(item.ID), ttl)
	pipe.ZAdd(ctx, readyKey, redis.Z{Score: float64(item.NextRetryAt.UnixNano()), Member: item.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redisqueue: enqueue: %w", err)
	}
	return true, nil
}

// LeaseReady pops up to max due items from the ready set in
// non-decreasing next_retry_at order and parks them in a leased set so
// a second caller cannot lease the same item concurrently.
func (q *Queue) LeaseReady(ctx context.Context, now time.Time, max int) ([]staging.Item, error) {
	ids, err := q.client.ZRangeByScore(ctx, readyKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: scan ready: %w", err)
	}

	var out []staging.Item
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, readyKey, id).Result()
		if err != nil || removed == 0 {
			continue // lost the race to another leaser
		}
		if err := q.client.ZAdd(ctx, leasedKey, redis.Z{
			Score: float64(now.Add(leaseTimeout).UnixNano()), Member: id,
		}).Err(); err != nil {
			return out, fmt.Errorf("redisqueue: record lease: %w", err)
		}
		item, err := q.loadItem(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (q *Queue) loadItem(ctx context.Context, id string) (staging.Item, error) {
	fields, err := q.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil || len(fields) == 0 {
		return staging.Item{}, fmt.Errorf("redisqueue: item %s missing", id)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	addedAtNs, _ := strconv.ParseInt(fields["added_at"], 10, 64)
	nextRetryNs, _ := strconv.ParseInt(fields["next_retry_at"], 10, 64)
	return staging.Item{
		ID:          id,
		TargetPath:  fields["target"],
		Payload:     []byte(fields["payload"]),
		Attempts:    attempts,
		AddedAt:     time.Unix(0, addedAtNs),
		NextRetryAt: time.Unix(0, nextRetryNs),
	}, nil
}

// Complete removes item id from both the item hash and the leased set.
// Idempotent: a missing id is not an error.
func (q *Queue) Complete(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, itemKey(id))
	pipe.ZRem(ctx, leasedKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Reschedule records the new attempt count and retry instant, and
// returns item id to the ready set. Returns an error without writing
// anything if id's item hash is absent: rescheduling an id this backend
// never held would otherwise fabricate a phantom ready-set entry with no
// target or payload.
func (q *Queue) Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	exists, err := q.client.Exists(ctx, itemKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: check item %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("redisqueue: item %s not found", id)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, itemKey(id), map[string]any{
		"attempts":      attempts,
		"next_retry_at": nextRetryAt.UnixNano(),
	})
	pipe.ZRem(ctx, leasedKey, id)
	pipe.ZAdd(ctx, readyKey, redis.Z{Score: float64(nextRetryAt.UnixNano()), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

// ReapExpiredLeases returns leasedKey members whose lease score has
// passed now back to readyKey, so an item abandoned by a crashed or
// restarted Forwarder (never completed, rescheduled, or discarded) is
// leasable again instead of stranded for good, per spec.md §4.D's
// "items survive restart" durability claim.
func (q *Queue) ReapExpiredLeases(ctx context.Context, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, leasedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("redisqueue: scan leased: %w", err)
	}
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, leasedKey, id).Result()
		if err != nil || removed == 0 {
			continue // lost the race to another reaper
		}
		if err := q.client.ZAdd(ctx, readyKey, redis.Z{
			Score: float64(now.UnixNano()), Member: id,
		}).Err(); err != nil {
			return fmt.Errorf("redisqueue: requeue reaped lease %s: %w", id, err)
		}
	}
	return nil
}

// Discard removes item id permanently. reason is not stored by this
// backend.
func (q *Queue) Discard(ctx context.Context, id string, reason string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, itemKey(id))
	pipe.ZRem(ctx, readyKey, id)
	pipe.ZRem(ctx, leasedKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Stats reports queue depth and memory pressure.
func (q *Queue) Stats(ctx context.Context) (staging.Stats, error) {
	ready, err := q.client.ZCard(ctx, readyKey).Result()
	if err != nil {
		return staging.Stats{}, fmt.Errorf("redisqueue: stats: %w", err)
	}
	leased, err := q.client.ZCard(ctx, leasedKey).Result()
	if err != nil {
		return staging.Stats{}, fmt.Errorf("redisqueue: stats: %w", err)
	}
	size := ready + leased

	var capacityPct float64
	if q.cfg.MaxQueueSize > 0 {
		capacityPct = float64(size) / float64(q.cfg.MaxQueueSize) * 100
	}
	memPct, _ := q.memoryPct(ctx)

	return staging.Stats{
		Size:        int(size),
		Ready:       int(ready),
		CapacityPct: capacityPct,
		MemoryPct:   memPct,
		DurableUp:   true,
	}, nil
}

// memoryPct returns used_memory from Redis's INFO output as a
// percentage of the configured budget. Errors propagate so callers can
// decide their own fail-open policy.
func (q *Queue) memoryPct(ctx context.Context) (float64, error) {
	if q.cfg.MaxMemoryMB <= 0 {
		return 0, nil
	}
	info, err := q.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: INFO memory: %w", err)
	}
	used, err := parseUsedMemory(info)
	if err != nil {
		return 0, err
	}
	budget := q.cfg.MaxMemoryMB * 1024 * 1024
	return float64(used) / float64(budget) * 100, nil
}

func parseUsedMemory(info string) (int64, error) {
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	return 0, fmt.Errorf("redisqueue: used_memory not present in INFO output")
}
