package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/observability"
)

// Registry composes the hot and warm tiers behind the ordering rules of
// §4.3: hot wins for volatile per-chunk fields (bbox, last_time_seen,
// total_detections), warm wins for identity fields (name, is_official).
// Hot and Warm are exported: the barn roster handler and the reprocessor
// use Warm directly.
type Registry struct {
	Hot  *Hot
	Warm *Warm

	blendWeightNew float64
	blendWeightOld float64
}

// New builds a Registry from config-resolved Hot/Warm tiers.
func New(hot *Hot, warm *Warm, cfg config.RegistryConfig) *Registry {
	weightNew := cfg.WarmBlendWeight
	weightOld := cfg.WarmBlendWeightOld
	if weightNew == 0 && weightOld == 0 {
		weightNew, weightOld = 0.7, 0.3
	}
	return &Registry{Hot: hot, Warm: warm, blendWeightNew: weightNew, blendWeightOld: weightOld}
}

// LoadBarn reconstructs the working identity set for one stream within a
// barn at the start of a chunk (§4.3 "LoadBarn"):
//  1. Load every active warm entry for the barn (identity-authoritative
//     fields: name, is_official, color, feature_vector).
//  2. Scan hot for the stream's own in-flight tracks and overlay their
//     volatile fields (bbox, last_time_seen, total_detections) onto any
//     warm entry sharing an ID; hot-only entries (no warm counterpart yet)
//     are kept as-is.
//
// Scoped to a single stream's hot keys rather than every stream under the
// barn: §4.3 frames the hot tier as "the fast path for back-to-back chunks
// on the same stream", and the worker processing a chunk only ever owns
// one stream at a time.
func (r *Registry) LoadBarn(ctx context.Context, barnID, streamID string) (map[string]*models.RegistryEntry, error) {
	warmStart := time.Now()
	warmEntries, err := r.Warm.ActiveByBarn(ctx, barnID)
	observability.RegistryOpDuration.WithLabelValues("warm", "load_barn").Observe(time.Since(warmStart).Seconds())
	if err != nil {
		observability.RegistryErrors.WithLabelValues("warm").Inc()
		return nil, fmt.Errorf("load warm barn %s: %w", barnID, err)
	}

	out := make(map[string]*models.RegistryEntry, len(warmEntries))
	for i := range warmEntries {
		e := warmEntries[i]
		out[e.ID] = &e
	}

	hotStart := time.Now()
	hotEntries, err := r.Hot.ScanStream(ctx, streamID)
	observability.RegistryOpDuration.WithLabelValues("hot", "scan_stream").Observe(time.Since(hotStart).Seconds())
	if err != nil {
		observability.RegistryErrors.WithLabelValues("hot").Inc()
		return nil, fmt.Errorf("scan hot stream %s: %w", streamID, err)
	}
	for id, hotEntry := range hotEntries {
		if warmEntry, ok := out[id]; ok {
			warmEntry.BBox = hotEntry.BBox
			warmEntry.LastUpdatedTime = hotEntry.LastUpdatedTime
			warmEntry.TotalDetections = hotEntry.TotalDetections
			warmEntry.Confidence = hotEntry.Confidence
			warmEntry.TrackingConfidence = hotEntry.TrackingConfidence
			continue
		}
		out[id] = hotEntry
	}
	return out, nil
}

// SaveBarn persists the chunk's resulting identity states back to both
// tiers (§4.3 "SaveBarn"):
//  1. Every entry is written to hot immediately (cheap, resets TTL).
//  2. Entries are blended into warm using the 0.7-new/0.3-old feature
//     blend; an existing warm name is kept (a new name only fills an
//     empty one) and is_official only ever changes from false to true,
//     see Warm.Upsert.
func (r *Registry) SaveBarn(ctx context.Context, entries []*models.RegistryEntry) error {
	for _, e := range entries {
		if err := r.Hot.Put(ctx, e); err != nil {
			return fmt.Errorf("save hot %s: %w", e.ID, err)
		}
	}
	for _, e := range entries {
		if err := r.Warm.Upsert(ctx, *e, r.blendWeightNew, r.blendWeightOld); err != nil {
			return fmt.Errorf("save warm %s: %w", e.ID, err)
		}
	}
	return nil
}

// ExpireHot is the named §4.3 hook for ending a stream's hot-tier
// residency (e.g. on stream teardown); real expiry still happens via TTL,
// see Hot.Expire.
func (r *Registry) ExpireHot(ctx context.Context, streamID string) error {
	return r.Hot.Expire(ctx, streamID)
}

// Cleanup sweeps both tiers: stale hot keys (belt-and-suspenders past
// TTL) and warm entries unseen past the warm-retention window, archiving
// the latter rather than deleting them (§3).
func (r *Registry) Cleanup(ctx context.Context, hotStaleCutoff, warmRetentionCutoff time.Time, barnID string) (int, error) {
	removed, err := r.Hot.Cleanup(ctx, hotStaleCutoff)
	if err != nil {
		return removed, fmt.Errorf("cleanup hot: %w", err)
	}

	entries, err := r.Warm.ActiveByBarn(ctx, barnID)
	if err != nil {
		return removed, fmt.Errorf("cleanup list warm: %w", err)
	}
	for _, e := range entries {
		if e.LastUpdatedTime.Before(warmRetentionCutoff) {
			if err := r.Warm.MarkArchived(ctx, e.ID); err != nil {
				return removed, fmt.Errorf("archive warm %s: %w", e.ID, err)
			}
		}
	}
	return removed, nil
}

// Ping checks connectivity to both tiers, used by the system health
// handler.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.Hot.Ping(ctx); err != nil {
		return fmt.Errorf("hot tier: %w", err)
	}
	if err := r.Warm.Ping(ctx); err != nil {
		return fmt.Errorf("warm tier: %w", err)
	}
	return nil
}

// Close releases both tiers' connections.
func (r *Registry) Close() {
	_ = r.Hot.Close()
	r.Warm.Close()
}
