package vision

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/observability"
)

// TrackUpdate is the per-frame result of matching one detection against
// the running tracker state (§4.2).
type TrackUpdate struct {
	Track       *models.Track
	Detection   models.Detection
	IsNew       bool
	Reidentified bool
}

// Tracker runs the two-stage (geometry, then appearance) multi-target
// association for one stream, with lost-track revival and archival
// (§4.2). Grounded on the teacher's Tracker (map of tracks, mutex-guarded
// Update), generalized from its single-pass greedy IoU match into the
// spec's two-stage Hungarian-assignment procedure, itself modeled on
// HorseTracker.update_tracks in horse_tracker.py.
type Tracker struct {
	mu                  sync.Mutex
	streamID            string
	cfg                 config.TrackingConfig
	appearanceThreshold float64

	active    map[string]*models.Track
	lost      map[string]*models.Track
	nextLabel int
	lastFrame int
}

// StreamID returns the stream this tracker is scoped to.
func (t *Tracker) StreamID() string { return t.streamID }

// NewTracker creates a tracker for one stream. appearanceThreshold comes
// from config.VisionConfig (it gates stage 2 re-identification, not the
// tracker's own lifecycle knobs).
func NewTracker(streamID string, cfg config.TrackingConfig, appearanceThreshold float64) *Tracker {
	return &Tracker{
		streamID:            streamID,
		cfg:                 cfg,
		appearanceThreshold: appearanceThreshold,
		active:              make(map[string]*models.Track),
		lost:                make(map[string]*models.Track),
	}
}

// Update runs one full association pass: motion prediction, stage 1
// (IoU+Hungarian), stage 2 (appearance+spatial gate over unmatched-active
// and revivable-lost tracks), new track creation, and lifecycle transition.
// embedFn is called only for detections that survive to stage 2 or that
// are due for the lazy stage-1 re-embed (§4.2 step 2/5), to keep inference
// cost proportional to ambiguous matches rather than every detection.
func (t *Tracker) Update(
	ctx context.Context,
	dets []models.Detection,
	frame gocv.Mat,
	frameIdx int,
	timestamp float64,
	embedFn func(ctx context.Context, crop gocv.Mat) ([]float32, error),
) ([]TrackUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.predictPositions(timestamp)

	unmatchedDetIdx := make([]int, len(dets))
	for i := range dets {
		unmatchedDetIdx[i] = i
	}

	activeIDs := make([]string, 0, len(t.active))
	for id := range t.active {
		activeIDs = append(activeIDs, id)
	}

	// Stage 1: geometric (IoU) assignment against active tracks only.
	stage1Matches, unmatchedDetIdx, unmatchedActive := t.stageOneIoU(dets, unmatchedDetIdx, activeIDs)

	updates := make([]TrackUpdate, 0, len(dets))

	for detIdx, trackID := range stage1Matches {
		track := t.active[trackID]
		var feat []float32
		if track.TotalDetections%t.cfg.ReEmbedIntervalUpdates == 0 {
			crop := cropDetection(frame, dets[detIdx].BBox)
			if f, err := embedFn(ctx, crop); err == nil {
				feat = f
			}
			crop.Close()
		}
		t.applyUpdate(track, dets[detIdx], feat, timestamp, frameIdx)
		updates = append(updates, TrackUpdate{Track: track, Detection: dets[detIdx], IsNew: false})
	}

	// Stage 2: appearance matching. Candidate pool = unmatched-active plus
	// lost tracks still within the revive window.
	candidatePool := make(map[string]*models.Track, len(unmatchedActive)+len(t.lost))
	for _, id := range unmatchedActive {
		candidatePool[id] = t.active[id]
	}
	for id, tr := range t.lost {
		if timestamp-tr.LastTimeSeen <= float64(t.cfg.ReviveWindowS) {
			candidatePool[id] = tr
		}
	}

	detFeatures := make(map[int][]float32, len(unmatchedDetIdx))
	for _, di := range unmatchedDetIdx {
		crop := cropDetection(frame, dets[di].BBox)
		if f, err := embedFn(ctx, crop); err == nil {
			detFeatures[di] = f
		}
		crop.Close()
	}

	stage2Matches, stillUnmatchedDetIdx := t.stageTwoAppearance(dets, unmatchedDetIdx, detFeatures, candidatePool, timestamp)

	for detIdx, trackID := range stage2Matches {
		wasLost := false
		track, ok := t.active[trackID]
		if !ok {
			track = t.lost[trackID]
			wasLost = true
		}
		t.applyUpdate(track, dets[detIdx], detFeatures[detIdx], timestamp, frameIdx)
		if wasLost {
			delete(t.lost, trackID)
			t.active[trackID] = track
			observability.TracksRevived.WithLabelValues(t.streamID).Inc()
		}
		// a track matched in stage 2 is no longer "unmatched active"
		delete(candidatePool, trackID)
		updates = append(updates, TrackUpdate{Track: track, Detection: dets[detIdx], IsNew: false, Reidentified: wasLost})
	}

	// New tracks for whatever remains unmatched.
	for _, di := range stillUnmatchedDetIdx {
		track := t.createTrack(dets[di], detFeatures[di], timestamp, frameIdx)
		observability.TracksCreated.WithLabelValues(t.streamID).Inc()
		updates = append(updates, TrackUpdate{Track: track, Detection: dets[di], IsNew: true})
	}

	// Anything left in candidatePool that wasn't matched this round has its
	// state flipped to lost immediately, but it stays in t.active (still
	// eligible for plain stage-1 IoU re-matching next frame) until it has
	// missed max_lost_frames consecutive updates, at which point it moves
	// out of the active set into t.lost (§3/§4.2 step 5, original_source
	// horse_tracker.py::_mark_track_lost). Archival of entries already in
	// t.lost is handled purely by elapsed time below.
	for id, track := range candidatePool {
		track.State = models.TrackLost
		track.FramesSinceSeen++
		if track.FramesSinceSeen >= t.cfg.MaxLostFrames {
			delete(t.active, id)
			t.lost[id] = track
		}
	}
	for id, track := range t.lost {
		if timestamp-track.LastTimeSeen > float64(t.cfg.ArchiveAfterS) {
			track.State = models.TrackArchived
			delete(t.lost, id)
			observability.TracksArchived.WithLabelValues(t.streamID).Inc()
		}
	}

	t.lastFrame = frameIdx
	return updates, nil
}

// predictPositions extrapolates each active track's bbox from its recent
// velocity so stage 1's IoU gate still sees a reasonable overlap between
// frames (§4.2 step 1).
func (t *Tracker) predictPositions(timestamp float64) {
	for _, track := range t.active {
		if len(track.VelocityHistory) == 0 || len(track.BBoxHistory) < 2 {
			continue
		}
		dt := timestamp - track.LastTimeSeen
		if dt <= 0 {
			continue
		}
		prev := track.BBoxHistory[len(track.BBoxHistory)-2]
		curr := track.BBoxHistory[len(track.BBoxHistory)-1]
		pdt := curr.Time - prev.Time
		if pdt <= 0 {
			continue
		}
		vx := (curr.BBox.X - prev.BBox.X) / float32(pdt)
		vy := (curr.BBox.Y - prev.BBox.Y) / float32(pdt)
		track.LastBBox.X = curr.BBox.X + vx*float32(dt)
		track.LastBBox.Y = curr.BBox.Y + vy*float32(dt)
	}
}

// stageOneIoU runs Hungarian assignment on the IoU cost matrix between
// detections and active tracks, keeping only matches above iou_gate.
func (t *Tracker) stageOneIoU(dets []models.Detection, detIdx []int, activeIDs []string) (map[int]string, []int, []string) {
	matches := make(map[int]string)
	if len(detIdx) == 0 || len(activeIDs) == 0 {
		return matches, detIdx, activeIDs
	}

	cost := make([][]float64, len(detIdx))
	for i, di := range detIdx {
		cost[i] = make([]float64, len(activeIDs))
		for j, id := range activeIDs {
			iouVal := IoU(dets[di].BBox, t.active[id].LastBBox)
			cost[i][j] = 1.0 - float64(iouVal)
		}
	}

	assignment := hungarianAssign(cost)

	matchedDet := make(map[int]bool)
	matchedTrack := make(map[string]bool)
	for i, j := range assignment {
		if j < 0 {
			continue
		}
		di := detIdx[i]
		id := activeIDs[j]
		iouVal := IoU(dets[di].BBox, t.active[id].LastBBox)
		if float64(iouVal) >= t.cfg.IoUGate {
			matches[di] = id
			matchedDet[di] = true
			matchedTrack[id] = true
		}
	}

	var remainingDet []int
	for _, di := range detIdx {
		if !matchedDet[di] {
			remainingDet = append(remainingDet, di)
		}
	}
	var remainingTracks []string
	for _, id := range activeIDs {
		if !matchedTrack[id] {
			remainingTracks = append(remainingTracks, id)
		}
	}
	return matches, remainingDet, remainingTracks
}

// stageTwoAppearance matches remaining detections against the candidate
// pool (unmatched-active + revivable-lost) using cosine similarity gated
// by a maximum-speed spatial constraint (§4.2 step 3).
func (t *Tracker) stageTwoAppearance(
	dets []models.Detection,
	detIdx []int,
	detFeatures map[int][]float32,
	candidates map[string]*models.Track,
	timestamp float64,
) (map[int]string, []int) {
	matches := make(map[int]string)
	if len(detIdx) == 0 || len(candidates) == 0 {
		return matches, detIdx
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}

	cost := make([][]float64, len(detIdx))
	for i, di := range detIdx {
		cost[i] = make([]float64, len(ids))
		feat := detFeatures[di]
		for j, id := range ids {
			track := candidates[id]
			if feat == nil || track.FeatureVector == nil {
				cost[i][j] = 1.0
				continue
			}
			sim := CosineSimilarity(feat, track.FeatureVector)
			cost[i][j] = 1.0 - float64(sim)
		}
	}

	assignment := hungarianAssign(cost)

	matchedDet := make(map[int]bool)
	for i, j := range assignment {
		if j < 0 {
			continue
		}
		di := detIdx[i]
		id := ids[j]
		track := candidates[id]
		feat := detFeatures[di]
		if feat == nil || track.FeatureVector == nil {
			continue
		}
		sim := CosineSimilarity(feat, track.FeatureVector)
		if float64(sim) < t.appearanceThreshold {
			continue
		}
		dt := timestamp - track.LastTimeSeen
		if dt < 0 {
			dt = 0
		}
		dx, dy := centerDelta(dets[di].BBox, track.LastBBox)
		dist := math.Sqrt(float64(dx*dx + dy*dy))
		if dist > dt*t.cfg.MaxSpeedPxPerS {
			continue
		}
		matches[di] = id
		matchedDet[di] = true
	}

	var remaining []int
	for _, di := range detIdx {
		if !matchedDet[di] {
			remaining = append(remaining, di)
		}
	}
	return matches, remaining
}

func centerDelta(a, b models.BoundingBox) (float32, float32) {
	ax, ay := a.Center()
	bx, by := b.Center()
	return ax - bx, ay - by
}

// applyUpdate folds one matched detection into a track: position, the
// per-frame EMA feature blend (α default 0.8, only when new features were
// extracted this round), velocity, and the four-factor track_confidence
// (§4.2 step 4-6).
func (t *Tracker) applyUpdate(track *models.Track, det models.Detection, feat []float32, timestamp float64, frameIdx int) {
	prevBBox := track.LastBBox
	prevTime := track.LastTimeSeen

	track.State = models.TrackActive
	track.LastBBox = det.BBox
	track.LastTimeSeen = timestamp
	track.LastFrameSeen = frameIdx
	track.FramesSinceSeen = 0
	track.TotalDetections++
	track.Confidence = 0.8*track.Confidence + 0.2*det.Confidence

	if feat != nil {
		if track.FeatureVector == nil {
			track.FeatureVector = feat
		} else {
			alpha := float32(t.cfg.EMAAlpha)
			blended := make([]float32, len(feat))
			for i := range feat {
				var old float32
				if i < len(track.FeatureVector) {
					old = track.FeatureVector[i]
				}
				blended[i] = alpha*old + (1-alpha)*feat[i]
			}
			normalize(blended)
			track.FeatureVector = blended
		}
		track.PushFeature(feat)
		if track.FirstAppearanceFeature == nil {
			track.FirstAppearanceFeature = feat
		}
	}

	track.PushBBox(models.BBoxObservation{Time: timestamp, BBox: det.BBox, Conf: det.Confidence})

	if track.TotalDetections >= 2 {
		dt := timestamp - prevTime
		if dt > 0 {
			dx, dy := centerDelta(det.BBox, prevBBox)
			v := math.Sqrt(float64(dx*dx + dy*dy)) / dt
			track.PushVelocity(v)
		}
	}

	track.TrackConfidence = t.calculateTrackConfidence(track)
}

// calculateTrackConfidence blends up to four factors: recent mean
// detection confidence, a longevity term, feature-stability (1/(1+stddev)
// of cosine similarity to the first-seen appearance), and
// velocity stability (inverse of velocity stddev), mirroring
// HorseTracker._calculate_track_confidence.
func (t *Tracker) calculateTrackConfidence(track *models.Track) float32 {
	var factors []float64
	n := len(track.BBoxHistory)
	if n > 0 {
		start := n - 5
		if start < 0 {
			start = 0
		}
		var sum float64
		count := 0
		for _, obs := range track.BBoxHistory[start:] {
			sum += float64(obs.Conf)
			count++
		}
		if count > 0 {
			factors = append(factors, sum/float64(count))
		}
	}

	factors = append(factors, math.Min(1.0, float64(track.TotalDetections)/20.0))

	if len(track.FeatureHistory) >= 3 && track.FirstAppearanceFeature != nil {
		recent := track.FeatureHistory[len(track.FeatureHistory)-3:]
		sims := make([]float64, 0, len(recent))
		for _, f := range recent {
			sims = append(sims, float64(CosineSimilarity(track.FirstAppearanceFeature, f)))
		}
		factors = append(factors, 1.0/(1.0+stddev(sims)))
	}

	if len(track.VelocityHistory) >= 3 {
		factors = append(factors, 1.0/(1.0+stddev(track.VelocityHistory)/100.0))
	}

	if len(factors) == 0 {
		return 0.5
	}
	var sum float64
	for _, f := range factors {
		sum += f
	}
	return float32(sum / float64(len(factors)))
}

func stddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vals))
	return math.Sqrt(variance)
}

func (t *Tracker) createTrack(det models.Detection, feat []float32, timestamp float64, frameIdx int) *models.Track {
	label := t.nextLabel
	t.nextLabel++
	track := &models.Track{
		ID:                     fmt.Sprintf("%s_%03d", t.streamID, label+1),
		NumericLabel:           label,
		Color:                  ColorRGBForLabel(label),
		LastBBox:               det.BBox,
		LastFrameSeen:          frameIdx,
		LastTimeSeen:           timestamp,
		FeatureVector:          feat,
		FirstAppearanceFeature: feat,
		State:                  models.TrackActive,
		TotalDetections:        1,
		Confidence:             det.Confidence,
		TrackConfidence:        0.5,
	}
	if feat != nil {
		track.PushFeature(feat)
	}
	track.PushBBox(models.BBoxObservation{Time: timestamp, BBox: det.BBox, Conf: det.Confidence})
	t.active[track.ID] = track
	return track
}

// Seed primes the tracker's active set from a pre-existing track, used by
// chunkproc to carry barn identity state into a fresh per-chunk Tracker
// (§4.3 LoadBarn -> §4.2). numeric_label is re-derived from the tracker's
// own label counter so colors stay contiguous with any new tracks created
// later in the chunk, rather than trusting a label recovered from the
// registry.
func (t *Tracker) Seed(track *models.Track) {
	t.mu.Lock()
	defer t.mu.Unlock()
	track.NumericLabel = t.nextLabel
	t.nextLabel++
	track.Color = ColorRGBForLabel(track.NumericLabel)
	t.active[track.ID] = track
}

// ActiveCount returns the number of currently active tracks.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Snapshot returns a copy of every track (active and lost) known to the
// tracker, used by the aggregator to persist warm-registry state (§4.6).
func (t *Tracker) Snapshot() []*models.Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.Track, 0, len(t.active)+len(t.lost))
	for _, tr := range t.active {
		out = append(out, tr)
	}
	for _, tr := range t.lost {
		out = append(out, tr)
	}
	return out
}

func cropDetection(frame gocv.Mat, bbox models.BoundingBox) gocv.Mat {
	x1, y1, x2, y2 := bbox.X1Y1X2Y2()
	return cropMat(frame, int(x1), int(y1), int(x2), int(y2))
}
