package chunkproc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/barnhand/corral/internal/corralerr"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/vision"
)

// seedTracker primes a fresh Tracker's active set from the barn's loaded
// identity map (§4.3 LoadBarn -> §4.2 "a chunk's tracker starts from the
// barn's current state, not empty"). Entries with status "archived" are
// skipped; every other entry is seeded regardless of when it was last
// updated.
func seedTracker(tracker *vision.Tracker, identities map[string]*models.RegistryEntry) {
	for _, e := range identities {
		if e.Status == "archived" {
			continue
		}
		track := &models.Track{
			ID:              e.ID,
			LastBBox:        e.BBox,
			LastTimeSeen:    0,
			FeatureVector:   e.Features,
			TotalDetections: e.TotalDetections,
			Confidence:      e.Confidence,
			TrackConfidence: e.TrackingConfidence,
			Name:            e.Name,
			IsOfficial:      e.IsOfficial,
			State:           models.TrackActive,
		}
		tracker.Seed(track)
	}
}

// finalize rolls the per-frame records in record.Frames up into the
// chunk-level HorseSummary/ChunkSummary (§4.6).
func finalize(record *models.ChunkRecord, tracker *vision.Tracker, processed, skipped int) {
	type acc struct {
		first, last int
		detections  int
		confSum     float32
		name        string
		official    bool
	}
	byHorse := make(map[string]*acc)

	for _, fr := range record.Frames {
		for _, tb := range fr.Tracked {
			a, ok := byHorse[tb.TrackID]
			if !ok {
				a = &acc{first: fr.FrameIndex, last: fr.FrameIndex}
				byHorse[tb.TrackID] = a
			}
			if fr.FrameIndex < a.first {
				a.first = fr.FrameIndex
			}
			if fr.FrameIndex > a.last {
				a.last = fr.FrameIndex
			}
			a.detections++
			a.confSum += tb.Confidence
			if tb.HorseName != "" {
				a.name = tb.HorseName
			}
		}
	}

	for _, tr := range tracker.Snapshot() {
		if a, ok := byHorse[tr.ID]; ok {
			a.official = tr.IsOfficial
			if tr.Name != "" {
				a.name = tr.Name
			}
		}
	}

	totalDetections := 0
	for id, a := range byHorse {
		mean := float32(0)
		if a.detections > 0 {
			mean = a.confSum / float32(a.detections)
		}
		record.Horses = append(record.Horses, models.HorseSummary{
			HorseID:         id,
			FirstFrame:      a.first,
			LastFrame:       a.last,
			TotalDetections: a.detections,
			MeanConfidence:  mean,
			Name:            a.name,
			IsOfficial:      a.official,
		})
		totalDetections += a.detections
	}

	record.Summary = models.ChunkSummary{
		TotalHorses:     len(byHorse),
		TotalDetections: totalDetections,
		FramesProcessed: processed,
		FramesSkipped:   skipped,
	}
}

// persistIdentities writes the tracker's final state for every track back
// into the registry (§4.3 SaveBarn). Each track's own id is used as its
// registry id, so a track created fresh in this chunk is stored under the
// id the tracker gave it.
func (p *Processor) persistIdentities(ctx context.Context, req models.ProcessingRequest, tracker *vision.Tracker) error {
	snapshot := tracker.Snapshot()
	entries := make([]*models.RegistryEntry, 0, len(snapshot))
	for _, tr := range snapshot {
		id := tr.ID
		entries = append(entries, &models.RegistryEntry{
			ID:                 id,
			TrackingID:         tr.ID,
			StreamID:           req.StreamID,
			BarnID:             req.BarnID,
			Name:               tr.Name,
			IsOfficial:         tr.IsOfficial,
			ColorHex:           vision.ColorForLabel(tr.NumericLabel),
			LastUpdatedTime:    time.Now(),
			BBox:               tr.LastBBox,
			Confidence:         tr.Confidence,
			Features:           tr.FeatureVector,
			TotalDetections:    tr.TotalDetections,
			TrackingConfidence: tr.TrackConfidence,
			Status:             statusFor(tr.State),
		})
	}
	if err := p.reg.SaveBarn(ctx, entries); err != nil {
		return fmt.Errorf("%w: %v", corralerr.ErrRegistryUnavailable, err)
	}
	return nil
}

func statusFor(state models.TrackState) string {
	if state == models.TrackArchived {
		return "archived"
	}
	return "active"
}

// NewChunkID generates a fresh chunk identifier. The scheduler does not
// call it: submissions must carry a chunk_id, which is also the job id.
func NewChunkID() string {
	return uuid.NewString()
}
