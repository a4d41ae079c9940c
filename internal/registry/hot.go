// Package registry implements the two-tier (hot/warm) identity registry of
// §4.3: a short-TTL cache backed by Redis shadows a durable pgvector-backed
// store, together giving cross-chunk and cross-stream identity continuity
// scoped by stream and barn. Grounded on the teacher's storage package
// split (one file per backend, a thin struct wrapping a client handle); the
// hot tier itself has no teacher analogue (iluha78-FD used Postgres for
// both speed and durability) and is instead grounded on
// SudharshanMutalik46-ts-vms-v1.0's Postgres+Redis+NATS stack for the same
// camera/identity domain.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
)

// Hot is the short-TTL cache tier (§4.3, §6 "Hot-registry key format").
type Hot struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHot connects to the Redis hot tier.
func NewHot(cfg config.RedisConfig, ttlSeconds int) *Hot {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Hot{client: client, ttl: time.Duration(ttlSeconds) * time.Second}
}

// Ping checks hot-tier connectivity.
func (h *Hot) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (h *Hot) Close() error { return h.client.Close() }

// hotKey builds the §6 key format: horse:<stream_id>:<track_id>:state.
func hotKey(streamID, trackID string) string {
	return fmt.Sprintf("horse:%s:%s:state", streamID, trackID)
}

// Put writes one entry to the hot tier with TTL reset (§4.3 SaveBarn step 1).
func (h *Hot) Put(ctx context.Context, entry *models.RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	key := hotKey(entry.StreamID, entry.ID)
	if err := h.client.Set(ctx, key, data, h.ttl).Err(); err != nil {
		return fmt.Errorf("hot put %s: %w", key, err)
	}
	return nil
}

// ScanStream returns every hot entry for one stream, keyed by track id
// (§4.3 LoadBarn step 2: "for every stream under the barn, scan hot").
func (h *Hot) ScanStream(ctx context.Context, streamID string) (map[string]*models.RegistryEntry, error) {
	out := make(map[string]*models.RegistryEntry)
	pattern := fmt.Sprintf("horse:%s:*:state", streamID)

	iter := h.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := h.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between SCAN and GET
			}
			return nil, fmt.Errorf("hot get %s: %w", key, err)
		}
		var entry models.RegistryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal hot entry %s: %w", key, err)
		}
		out[entry.ID] = &entry
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan hot stream %s: %w", streamID, err)
	}
	return out, nil
}

// Expire is a no-op beyond native Redis TTL expiry: entries simply vanish
// once their TTL elapses. Kept as an explicit operation to match §4.3's
// named "ExpireHot(stream_id)" contract and so callers don't need to know
// that TTL already does the work.
func (h *Hot) Expire(ctx context.Context, streamID string) error {
	return nil
}

// Cleanup sweeps hot entries whose LastUpdatedTime predates the cutoff and
// deletes them explicitly (§4.3 "Cleanup(hot_stale_cutoff)"). This is a
// belt-and-suspenders sweep: normal operation never needs it since Redis
// TTL already reclaims stale keys, but a clock skew or a TTL-less write
// from a bug would otherwise linger.
func (h *Hot) Cleanup(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	iter := h.client.Scan(ctx, 0, "horse:*:*:state", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := h.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return removed, fmt.Errorf("hot get %s: %w", key, err)
		}
		var entry models.RegistryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		if entry.LastUpdatedTime.Before(cutoff) {
			if err := h.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("hot del %s: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cleanup scan: %w", err)
	}
	return removed, nil
}

// Delete removes a single hot entry. No code in this repository calls it.
func (h *Hot) Delete(ctx context.Context, streamID, trackID string) error {
	return h.client.Del(ctx, hotKey(streamID, trackID)).Err()
}
