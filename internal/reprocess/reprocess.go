// Package reprocess implements the correction-driven reprocessor of
// §4.7: given a completed chunk and a batch of human corrections, it
// rewrites the chunk's identity assignments, re-extracts appearance
// features from the original raw video, updates the warm registry, and
// rebuilds both the JSON record and the overlay video atomically.
// Grounded on original_source/services/reprocessor.py for step order and
// the feature-blend/thumbnail rules, expressed in the teacher's own
// read-modify-write-atomically idiom (internal/storage.PostgresStore's
// transaction-per-mutation style, generalized here to a JSON+video pair).
package reprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/corralerr"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/observability"
	"github.com/barnhand/corral/internal/registry"
	"github.com/barnhand/corral/internal/videoio"
	"github.com/barnhand/corral/internal/vision"
)

// Reprocessor applies correction batches to completed chunks (§4.7).
type Reprocessor struct {
	storageCfg config.StorageConfig
	reg        *registry.Registry
	embedder   vision.EmbedderCapability
	renderer   *videoio.Renderer
}

// New builds a Reprocessor over the shared storage layout, registry, and
// embedder capability (the only inference needed for reprocessing —
// detection and keypoints are not re-run, since the corrected boxes and
// poses are already known, §4.7 step 4).
func New(storageCfg config.StorageConfig, reg *registry.Registry, embedder vision.EmbedderCapability) *Reprocessor {
	return &Reprocessor{storageCfg: storageCfg, reg: reg, embedder: embedder, renderer: videoio.NewRenderer()}
}

// layout is the resolved filesystem paths for one chunk (§4.7 step 1).
type layout struct {
	jsonPath    string
	videoPath   string
	rawPath     string
	tmpJSONPath string
	tmpVideoPath string
}

// resolveLayout walks storage.output_root for <chunk_id>.json, then
// mirrors its barn/stream subdirectory under storage.raw_video_root to
// find the original raw video (§4.7 step 1: "siblings under the same
// stream directory").
func (r *Reprocessor) resolveLayout(chunkID string) (layout, error) {
	var found string
	target := chunkID + ".json"
	err := filepath.WalkDir(r.storageCfg.OutputRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == target {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && found == "" {
		return layout{}, fmt.Errorf("%w: walk output root: %v", corralerr.ErrInputNotFound, err)
	}
	if found == "" {
		return layout{}, fmt.Errorf("%w: chunk json for %s", corralerr.ErrInputNotFound, chunkID)
	}

	rel, err := filepath.Rel(r.storageCfg.OutputRoot, filepath.Dir(found))
	if err != nil {
		return layout{}, fmt.Errorf("relativize output path: %w", err)
	}

	videoPath := filepath.Join(filepath.Dir(found), chunkID+".mp4")
	rawPath := filepath.Join(r.storageCfg.RawVideoRoot, rel, chunkID+".mp4")
	if _, err := os.Stat(rawPath); err != nil {
		return layout{}, fmt.Errorf("%w: raw video for %s: %v", corralerr.ErrInputNotFound, chunkID, err)
	}

	return layout{
		jsonPath:     found,
		videoPath:    videoPath,
		rawPath:      rawPath,
		tmpJSONPath:  found + ".tmp",
		tmpVideoPath: videoPath + ".tmp",
	}, nil
}

// Run applies corrections to chunkID and rewrites its derivatives
// (§4.7 steps 2-7). progress, if non-nil, receives percent-complete ticks.
func (r *Reprocessor) Run(ctx context.Context, req models.ReprocessRequest, progress chan<- int) (*models.ReprocessingResult, error) {
	loc, err := r.resolveLayout(req.ChunkID)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", corralerr.ErrCancelled, err)
	}

	raw, err := os.ReadFile(loc.jsonPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read chunk json: %v", corralerr.ErrInputNotFound, err)
	}
	var record models.ChunkRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("parse chunk record: %w", err)
	}

	if err := validateCorrections(record, req.Corrections); err != nil {
		return nil, err
	}

	touched, err := applyCorrections(&record, req.Corrections)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress <- 20
	}

	src, err := videoio.Open(loc.rawPath, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: open raw video: %v", corralerr.ErrInputNotFound, err)
	}
	defer src.Close()

	if err := r.reextractFeatures(ctx, src, record, touched); err != nil {
		// Partial failure of feature update is non-fatal (§4.7 Failure note):
		// the rewritten JSON/video must still succeed.
		_ = err
	}
	if progress != nil {
		progress <- 50
	}

	if err := ctx.Err(); err != nil {
		r.removePartialOutputs(loc)
		return nil, fmt.Errorf("%w: %v", corralerr.ErrCancelled, err)
	}

	if err := r.rebuildVideo(src, record, loc); err != nil {
		return nil, fmt.Errorf("%w: rebuild video: %v", corralerr.ErrDecodeError, err)
	}
	if progress != nil {
		progress <- 85
	}

	if err := ctx.Err(); err != nil {
		r.removePartialOutputs(loc)
		return nil, fmt.Errorf("%w: %v", corralerr.ErrCancelled, err)
	}

	record.ProcessedAt = time.Now()
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal chunk record: %w", err)
	}
	if err := os.WriteFile(loc.tmpJSONPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("write chunk json: %w", err)
	}

	if err := atomicRename(loc.tmpJSONPath, loc.jsonPath); err != nil {
		return nil, fmt.Errorf("commit chunk json: %w", err)
	}
	if err := atomicRename(loc.tmpVideoPath, loc.videoPath); err != nil {
		return nil, fmt.Errorf("commit chunk video: %w", err)
	}
	if progress != nil {
		progress <- 100
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	observability.ReprocessingsCompleted.WithLabelValues(record.BarnID).Inc()
	return &models.ReprocessingResult{
		ChunkID:           req.ChunkID,
		FramesRewritten:   len(record.Frames),
		IdentitiesTouched: ids,
	}, nil
}

func atomicRename(tmp, dest string) error {
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	return nil
}

// removePartialOutputs deletes whatever has been written to the tmp paths
// so far; the committed jsonPath/videoPath are never touched before the
// final atomicRename calls, so cancellation never needs to touch them
// (§5/§7).
func (r *Reprocessor) removePartialOutputs(loc layout) {
	if err := os.Remove(loc.tmpVideoPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial reprocess video", "path", loc.tmpVideoPath, "error", err)
	}
	if err := os.Remove(loc.tmpJSONPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial reprocess json", "path", loc.tmpJSONPath, "error", err)
	}
}

// validateCorrections rejects the whole batch if any entry addresses a
// non-existent (frame_index, detection_index) slot or omits a required
// field (§7 ErrCorrectionInvalid, §8 "rejected without applying any
// corrections in the batch").
func validateCorrections(record models.ChunkRecord, corrections []models.Correction) error {
	byIndex := make(map[int]*models.FrameRecord, len(record.Frames))
	for i := range record.Frames {
		byIndex[record.Frames[i].FrameIndex] = &record.Frames[i]
	}
	for _, c := range corrections {
		fr, ok := byIndex[c.FrameIndex]
		if !ok {
			return fmt.Errorf("%w: frame %d not found", corralerr.ErrCorrectionInvalid, c.FrameIndex)
		}
		if c.CorrectionType != models.CorrectionMarkIncorrect {
			if c.DetectionIndex < 0 || c.DetectionIndex >= len(fr.Tracked) {
				return fmt.Errorf("%w: frame %d detection %d out of range", corralerr.ErrCorrectionInvalid, c.FrameIndex, c.DetectionIndex)
			}
		}
		switch c.CorrectionType {
		case models.CorrectionReassign:
			if c.CorrectedHorseID == "" {
				return fmt.Errorf("%w: reassign missing corrected_horse_id", corralerr.ErrCorrectionInvalid)
			}
		case models.CorrectionNewGuest:
			if c.CorrectedHorseName == "" {
				return fmt.Errorf("%w: new_guest missing corrected_horse_name", corralerr.ErrCorrectionInvalid)
			}
		case models.CorrectionMarkIncorrect:
			if c.DetectionIndex < 0 || c.DetectionIndex >= len(fr.Tracked) {
				return fmt.Errorf("%w: frame %d detection %d out of range", corralerr.ErrCorrectionInvalid, c.FrameIndex, c.DetectionIndex)
			}
		default:
			return fmt.Errorf("%w: unknown correction_type %q", corralerr.ErrCorrectionInvalid, c.CorrectionType)
		}
	}
	return nil
}

// applyCorrections mutates record in place per §4.7 step 3 and returns the
// set of horse ids touched by this batch (reassign targets and newly
// minted guests), used to scope feature re-extraction.
func applyCorrections(record *models.ChunkRecord, corrections []models.Correction) (map[string]bool, error) {
	byIndex := make(map[int]*models.FrameRecord, len(record.Frames))
	for i := range record.Frames {
		byIndex[record.Frames[i].FrameIndex] = &record.Frames[i]
	}

	touched := make(map[string]bool)
	guestByName := make(map[string]guestIdentity)
	streamID := record.StreamID
	numericLabel := len(record.Horses)

	for _, c := range corrections {
		fr := byIndex[c.FrameIndex]

		switch c.CorrectionType {
		case models.CorrectionReassign:
			tb := &fr.Tracked[c.DetectionIndex]
			oldID := tb.TrackID
			tb.TrackID = c.CorrectedHorseID
			if c.CorrectedHorseName != "" {
				tb.HorseName = c.CorrectedHorseName
			}
			reassignKeypoints(fr, oldID, c.CorrectedHorseID)
			touched[c.CorrectedHorseID] = true

		case models.CorrectionNewGuest:
			g, ok := guestByName[c.CorrectedHorseName]
			if !ok {
				numericLabel++
				g = guestIdentity{
					id:    fmt.Sprintf("%s_guest_%s", streamID, uuid.NewString()[:8]),
					color: vision.ColorForLabel(numericLabel),
				}
				guestByName[c.CorrectedHorseName] = g
			}
			tb := &fr.Tracked[c.DetectionIndex]
			oldID := tb.TrackID
			tb.TrackID = g.id
			tb.HorseName = c.CorrectedHorseName
			tb.Color = g.color
			reassignKeypoints(fr, oldID, g.id)
			touched[g.id] = true

		case models.CorrectionMarkIncorrect:
			tb := fr.Tracked[c.DetectionIndex]
			delete(fr.Keypoints, tb.TrackID)
			delete(fr.StateLabel, tb.TrackID)
			fr.Tracked = append(fr.Tracked[:c.DetectionIndex], fr.Tracked[c.DetectionIndex+1:]...)
		}
	}
	return touched, nil
}

type guestIdentity struct {
	id    string
	color string
}

func reassignKeypoints(fr *models.FrameRecord, oldID, newID string) {
	if oldID == newID {
		return
	}
	if kp, ok := fr.Keypoints[oldID]; ok {
		fr.Keypoints[newID] = kp
		delete(fr.Keypoints, oldID)
	}
	if sl, ok := fr.StateLabel[oldID]; ok {
		fr.StateLabel[newID] = sl
		delete(fr.StateLabel, oldID)
	}
}

// reextractFeatures implements §4.7 step 4: for every touched track,
// re-crop its bbox (10% padding, square, black-padded) from the raw
// frames it appears in, keep the highest-confidence crop, embed it, and
// blend it into the warm registry entry.
func (r *Reprocessor) reextractFeatures(ctx context.Context, src *videoio.Source, record models.ChunkRecord, touched map[string]bool) error {
	if len(touched) == 0 {
		return nil
	}

	type best struct {
		conf float32
		crop gocv.Mat
	}
	bestByTrack := make(map[string]*best)
	defer func() {
		for _, b := range bestByTrack {
			b.crop.Close()
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	for _, fr := range record.Frames {
		hasTouched := false
		for _, tb := range fr.Tracked {
			if touched[tb.TrackID] {
				hasTouched = true
				break
			}
		}
		if !hasTouched {
			continue
		}
		if err := src.ReadAt(fr.FrameIndex, &frame); err != nil {
			continue
		}
		for _, tb := range fr.Tracked {
			if !touched[tb.TrackID] {
				continue
			}
			crop := squarePaddedCrop(frame, tb.BBox, 0.10)
			if crop.Empty() {
				continue
			}
			b, ok := bestByTrack[tb.TrackID]
			if !ok || tb.Confidence > b.conf {
				if ok {
					b.crop.Close()
				}
				bestByTrack[tb.TrackID] = &best{conf: tb.Confidence, crop: crop}
			} else {
				crop.Close()
			}
		}
	}

	for trackID, b := range bestByTrack {
		feature, err := r.embedder.Extract(ctx, b.crop)
		if err != nil {
			continue
		}
		thumb := resizeForThumbnail(b.crop, 200)
		jpegBytes, encErr := gocv.IMEncodeWithParams(".jpg", thumb, []int{gocv.IMWriteJpegQuality, 80})
		thumb.Close()

		entry, exists, _ := r.reg.Warm.Get(ctx, trackID)
		if !exists {
			entry = models.RegistryEntry{
				ID:         trackID,
				TrackingID: trackID,
				StreamID:   record.StreamID,
				BarnID:     record.BarnID,
				ColorHex:   vision.ColorForLabel(0),
				Status:     "active",
			}
		}
		entry.Features = feature
		entry.LastUpdatedTime = time.Now()
		if err := r.reg.Warm.Upsert(ctx, entry, 0.7, 0.3); err != nil {
			continue
		}
		if encErr == nil && jpegBytes != nil {
			_ = r.reg.Warm.UpdateThumbnail(ctx, trackID, jpegBytes.GetBytes())
			jpegBytes.Close()
		}
	}
	return nil
}

// squarePaddedCrop extracts a square, centered, 10%-padded crop of bbox
// from frame, black-padding any region that falls outside the frame
// bounds (§4.7 step 4).
func squarePaddedCrop(frame gocv.Mat, bbox models.BoundingBox, padFrac float32) gocv.Mat {
	if !bbox.Valid() {
		return gocv.NewMat()
	}
	cx, cy := bbox.Center()
	side := bbox.W
	if bbox.H > side {
		side = bbox.H
	}
	side *= 1 + 2*padFrac

	half := side / 2
	x1 := int(cx - half)
	y1 := int(cy - half)
	size := int(side)
	if size <= 0 {
		return gocv.NewMat()
	}

	canvas := gocv.NewMatWithSize(size, size, frame.Type())
	canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))

	srcX1, srcY1 := x1, y1
	srcX2, srcY2 := x1+size, y1+size
	clampX1, clampY1 := srcX1, srcY1
	clampX2, clampY2 := srcX2, srcY2
	if clampX1 < 0 {
		clampX1 = 0
	}
	if clampY1 < 0 {
		clampY1 = 0
	}
	if clampX2 > frame.Cols() {
		clampX2 = frame.Cols()
	}
	if clampY2 > frame.Rows() {
		clampY2 = frame.Rows()
	}
	if clampX2 <= clampX1 || clampY2 <= clampY1 {
		return canvas
	}

	srcRegion := frame.Region(image.Rect(clampX1, clampY1, clampX2, clampY2))
	dstRegion := canvas.Region(image.Rect(clampX1-srcX1, clampY1-srcY1, clampX2-srcX1, clampY2-srcY1))
	srcRegion.CopyTo(&dstRegion)
	return canvas
}

func resizeForThumbnail(crop gocv.Mat, maxSide int) gocv.Mat {
	w, h := crop.Cols(), crop.Rows()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSide || longest == 0 {
		return crop.Clone()
	}
	scale := float64(maxSide) / float64(longest)
	dst := gocv.NewMat()
	gocv.Resize(crop, &dst, image.Pt(int(float64(w)*scale), int(float64(h)*scale)), 0, 0, gocv.InterpolationArea)
	return dst
}

// rebuildVideo implements §4.7 steps 5-6 / §4.9: re-draw every frame from
// the raw video with the corrected records, writing the output at
// original_fps regardless of the processing stride.
func (r *Reprocessor) rebuildVideo(src *videoio.Source, record models.ChunkRecord, loc layout) error {
	width, height := src.Dimensions()
	outputFPS := record.VideoMetadata.FPS
	if outputFPS <= 0 {
		outputFPS = src.FPS()
	}
	stride := record.VideoMetadata.FrameInterval
	if stride < 1 {
		stride = 1
	}

	writer, err := videoio.NewWriter(loc.tmpVideoPath, outputFPS, width, height)
	if err != nil {
		return err
	}
	defer writer.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	for _, fr := range record.Frames {
		if !fr.Processed {
			// Skipped-source-frame placeholder (§4.1): carries no overlay
			// and was never independently written to the output video.
			continue
		}
		if err := src.ReadAt(fr.FrameIndex, &frame); err != nil {
			return fmt.Errorf("reread frame %d: %w", fr.FrameIndex, err)
		}
		r.renderer.DrawFrame(&frame, fr)
		if err := writer.WriteRepeated(frame, stride); err != nil {
			return err
		}
	}
	return nil
}
