// Package chunkproc implements the per-chunk processing pipeline of
// §4.1-4.6: decode a chunk video frame-by-frame, detect and track horses,
// estimate keypoints and body state, render overlays, and roll the chunk
// up into a persisted JSON summary. Grounded on the teacher's
// internal/vision.Pipeline (detect -> track -> embed -> attributes ->
// emit), generalized from single already-decoded JPEG frames pulled off
// MinIO to a frame_interval-sampled video stream, and from the teacher's
// single-identity-namespace matching to the barn-scoped two-tier registry.
package chunkproc

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/corralerr"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/observability"
	"github.com/barnhand/corral/internal/registry"
	"github.com/barnhand/corral/internal/videoio"
	"github.com/barnhand/corral/internal/vision"
)

// Processor runs the full chunk pipeline. The worker builds one Processor
// at startup and calls Run once per chunk; the long-lived, expensive-to-load pieces (detector,
// keypoint estimator, embedder, registry) are injected so they are shared
// across chunks by the worker (§5, §9 Design Notes).
type Processor struct {
	detector  vision.DetectorCapability
	keypoints vision.KeypointCapability
	embedder  vision.EmbedderCapability
	annotator *vision.StateAnnotator
	renderer  *videoio.Renderer
	reg       *registry.Registry

	visionCfg   config.VisionConfig
	trackingCfg config.TrackingConfig
}

// New builds a Processor from the long-lived capability set and registry.
func New(
	detector vision.DetectorCapability,
	keypoints vision.KeypointCapability,
	embedder vision.EmbedderCapability,
	reg *registry.Registry,
	visionCfg config.VisionConfig,
	trackingCfg config.TrackingConfig,
) *Processor {
	return &Processor{
		detector:    detector,
		keypoints:   keypoints,
		embedder:    embedder,
		annotator:   vision.NewStateAnnotator(),
		renderer:    videoio.NewRenderer(),
		reg:         reg,
		visionCfg:   visionCfg,
		trackingCfg: trackingCfg,
	}
}

// Run executes §4.1-4.6 for one ProcessingRequest: open the chunk video,
// load the barn's identity state, run detection/tracking/keypoints/state
// per sampled frame, render the overlay video, finalize a ChunkRecord and
// write it as JSON to req.OutputJSONPath, then save the tracker's
// identities back to the registry. Progress percentages are sent, without
// blocking, on the caller-supplied progress channel (which may be nil).
func (p *Processor) Run(ctx context.Context, req models.ProcessingRequest, progress chan<- int) (*models.ChunkRecord, error) {
	opts := resolveOptions(req.Options, p.visionCfg)

	src, err := videoio.Open(req.ChunkPath, req.FrameInterval)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", corralerr.ErrInputNotFound, req.ChunkPath, err)
	}
	defer src.Close()

	width, height := src.Dimensions()
	outputFPS := src.FPS()
	if outputFPS <= 0 {
		outputFPS = 30
	}

	writer, err := videoio.NewWriter(req.OutputVideoPath, outputFPS, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corralerr.ErrDecodeError, err)
	}
	defer writer.Close()

	identities, err := p.reg.LoadBarn(ctx, req.BarnID, req.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", corralerr.ErrRegistryUnavailable, err)
	}

	trackingCfg := p.trackingCfg
	if req.Options.MaxLostFrames > 0 {
		trackingCfg.MaxLostFrames = req.Options.MaxLostFrames
	}
	if req.Options.ReviveWindowS > 0 {
		trackingCfg.ReviveWindowS = req.Options.ReviveWindowS
	}
	tracker := vision.NewTracker(req.StreamID, trackingCfg, opts.AppearanceThreshold)
	seedTracker(tracker, identities)

	record := &models.ChunkRecord{
		ChunkID:       req.ChunkID,
		StreamID:      req.StreamID,
		BarnID:        req.BarnID,
		FPS:           src.FPS(),
		ProcessingFPS: src.FPS() / float64(maxInt(req.FrameInterval, 1)),
		ProcessedAt:   time.Now(),
		VideoMetadata: models.VideoMetadata{FPS: src.FPS(), FrameInterval: req.FrameInterval},
	}

	frame := gocv.NewMat()
	defer frame.Close()

	embedFn := func(ctx context.Context, crop gocv.Mat) ([]float32, error) {
		return p.embedder.Extract(ctx, crop)
	}

	stride := maxInt(req.FrameInterval, 1)
	frameCount := 0
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			p.removePartialOutputs(req)
			return nil, fmt.Errorf("%w: %v", corralerr.ErrCancelled, err)
		}

		frameIdx, timestamp, skippedIdx, ok, err := src.Next(&frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", corralerr.ErrDecodeError, err)
		}
		if !ok {
			break
		}

		// §4.1: frames skipped to honor frame_interval still appear in the
		// record as unprocessed placeholders, but they carry no overlay
		// and are never independently written to the output video.
		for _, si := range skippedIdx {
			ts := 0.0
			if src.FPS() > 0 {
				ts = float64(si) / src.FPS()
			}
			record.Frames = append(record.Frames, models.FrameRecord{FrameIndex: si, Timestamp: ts, Processed: false})
			record.FrameCount++
			skipped++
			observability.FramesSkipped.WithLabelValues(req.StreamID).Inc()
		}

		fr, err := p.processFrame(ctx, tracker, frame, frameIdx, timestamp, opts, embedFn)
		if err != nil {
			// An inference failure is recorded as a processed frame with no
			// tracked boxes; the chunk continues.
			slog.Warn("frame inference failed", "chunk_id", req.ChunkID, "frame_index", frameIdx, "error", err)
			fr = models.FrameRecord{FrameIndex: frameIdx, Timestamp: timestamp, Processed: true}
		}
		frameCount++
		observability.FramesProcessed.WithLabelValues(req.StreamID).Inc()

		p.renderer.DrawFrame(&frame, fr)
		if err := writer.WriteRepeated(frame, stride); err != nil {
			return nil, fmt.Errorf("%w: %v", corralerr.ErrDecodeError, err)
		}

		record.Frames = append(record.Frames, fr)
		record.FrameCount++

		if progress != nil && src.FrameCount() > 0 {
			select {
			case progress <- percentComplete(frameIdx, src.FrameCount()):
			default:
			}
		}
	}

	record.DurationS = float64(record.FrameCount) / maxFloat(record.ProcessingFPS, 1)
	finalize(record, tracker, frameCount, skipped)

	if req.OutputJSONPath != "" {
		encoded, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal chunk record: %w", err)
		}
		if err := os.WriteFile(req.OutputJSONPath, encoded, 0o644); err != nil {
			return nil, fmt.Errorf("write chunk json %s: %w", req.OutputJSONPath, err)
		}
	}

	if err := p.persistIdentities(ctx, req, tracker); err != nil {
		return nil, err
	}

	return record, nil
}

// removePartialOutputs deletes whatever has been written to the output
// video/JSON paths so far, per §5/§7: a cancelled or timed-out job must
// not leave a half-written result behind.
func (p *Processor) removePartialOutputs(req models.ProcessingRequest) {
	if req.OutputVideoPath != "" {
		if err := os.Remove(req.OutputVideoPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove partial output video", "chunk_id", req.ChunkID, "path", req.OutputVideoPath, "error", err)
		}
	}
	if req.OutputJSONPath != "" {
		if err := os.Remove(req.OutputJSONPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove partial output json", "chunk_id", req.ChunkID, "path", req.OutputJSONPath, "error", err)
		}
	}
}

// processFrame runs one sampled frame through detect -> track -> keypoints
// -> state (§4.1 step list). Detections below the configured threshold or
// smaller than min_horse_size never reach the tracker.
func (p *Processor) processFrame(
	ctx context.Context,
	tracker *vision.Tracker,
	frame gocv.Mat,
	frameIdx int,
	timestamp float64,
	opts resolvedOptions,
	embedFn func(context.Context, gocv.Mat) ([]float32, error),
) (models.FrameRecord, error) {
	detectStart := time.Now()
	dets, err := p.detector.Detect(ctx, frame, float32(opts.DetectionThreshold))
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(detectStart).Seconds())
	if err != nil {
		return models.FrameRecord{}, fmt.Errorf("%w: %v", corralerr.ErrInferenceError, err)
	}
	dets = filterBySize(dets, p.visionCfg.MinHorseSize)
	observability.HorsesDetected.WithLabelValues(tracker.StreamID()).Add(float64(len(dets)))

	updates, err := tracker.Update(ctx, dets, frame, frameIdx, timestamp, embedFn)
	if err != nil {
		return models.FrameRecord{}, fmt.Errorf("%w: %v", corralerr.ErrInferenceError, err)
	}

	fr := models.FrameRecord{
		FrameIndex: frameIdx,
		Timestamp:  timestamp,
		Processed:  true,
		Keypoints:  make(map[string]models.Keypoints),
		StateLabel: make(map[string]string),
	}

	for _, u := range updates {
		tb := models.TrackedBox{
			TrackID:    u.Track.ID,
			BBox:       u.Track.LastBBox,
			Confidence: u.Track.Confidence,
			Color:      vision.ColorForLabel(u.Track.NumericLabel),
			IsNew:      u.IsNew,
			HorseName:  u.Track.Name,
		}

		crop := cropForKeypoints(frame, u.Track.LastBBox)
		if !crop.Empty() {
			if kp, err := p.keypoints.Estimate(ctx, crop); err == nil && kp != nil {
				label := p.annotator.Annotate(u.Track, kp)
				tb.State = models.TrackState(label)
				fr.Keypoints[u.Track.ID] = *kp
				fr.StateLabel[u.Track.ID] = string(label)
			}
		}
		crop.Close()

		fr.Tracked = append(fr.Tracked, tb)
	}

	return fr, nil
}

func cropForKeypoints(frame gocv.Mat, bbox models.BoundingBox) gocv.Mat {
	if !bbox.Valid() {
		return gocv.NewMat()
	}
	x1, y1, x2, y2 := bbox.X1Y1X2Y2()
	return cropRect(frame, int(x1), int(y1), int(x2), int(y2))
}

// cropRect extracts a clamped sub-region of frame, mirroring the teacher's
// crop-before-inference helper (vision.cropMat is unexported to that
// package, so this duplicates its bounds-clamping logic for chunkproc's
// own keypoint-crop need).
func cropRect(frame gocv.Mat, x1, y1, x2, y2 int) gocv.Mat {
	w, h := frame.Cols(), frame.Rows()
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > w {
		x2 = w
	}
	if y2 > h {
		y2 = h
	}
	if x2 <= x1 || y2 <= y1 {
		return gocv.NewMat()
	}
	region := frame.Region(image.Rect(x1, y1, x2, y2))
	return region.Clone()
}

func filterBySize(dets []models.Detection, minSize int) []models.Detection {
	if minSize <= 0 {
		return dets
	}
	out := dets[:0]
	for _, d := range dets {
		if int(d.BBox.W) >= minSize && int(d.BBox.H) >= minSize {
			out = append(out, d)
		}
	}
	return out
}

func percentComplete(frameIdx, total int) int {
	if total <= 0 {
		return 0
	}
	pct := frameIdx * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

type resolvedOptions struct {
	DetectionThreshold  float64
	KeypointThreshold   float64
	AppearanceThreshold float64
}

// resolveOptions applies per-job overrides (§6 ProcessingOptions) over
// the worker's configured defaults, leaving zero-valued overrides as "not
// specified".
func resolveOptions(o models.ProcessingOptions, cfg config.VisionConfig) resolvedOptions {
	r := resolvedOptions{
		DetectionThreshold:  cfg.DetectionThreshold,
		KeypointThreshold:   cfg.KeypointThreshold,
		AppearanceThreshold: cfg.AppearanceThreshold,
	}
	if o.DetectionThreshold > 0 {
		r.DetectionThreshold = o.DetectionThreshold
	}
	if o.KeypointThreshold > 0 {
		r.KeypointThreshold = o.KeypointThreshold
	}
	if o.AppearanceThreshold > 0 {
		r.AppearanceThreshold = o.AppearanceThreshold
	}
	return r
}
