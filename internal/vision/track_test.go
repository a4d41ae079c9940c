package vision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
)

func testTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		IoUGate:                0.3,
		MaxLostFrames:          10,
		ReviveWindowS:          5,
		MaxSpeedPxPerS:         500,
		ArchiveAfterS:          30,
		EMAAlpha:               0.8,
		ReEmbedIntervalUpdates: 5,
	}
}

func fixedEmbedFn(vec []float32) func(ctx context.Context, crop gocv.Mat) ([]float32, error) {
	return func(ctx context.Context, crop gocv.Mat) ([]float32, error) {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
}

func det(x, y, w, h float32, conf float32) models.Detection {
	return models.Detection{BBox: models.BoundingBox{X: x, Y: y, W: w, H: h}, Confidence: conf, ClassID: 0}
}

func TestTracker_NewTrackCreation(t *testing.T) {
	t.Parallel()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	tr := NewTracker("stream-1", testTrackingConfig(), 0.5)
	updates, err := tr.Update(context.Background(), []models.Detection{det(10, 10, 50, 50, 0.9)}, frame, 0, 0, fixedEmbedFn([]float32{1, 0, 0}))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
	assert.False(t, updates[0].Reidentified)
	assert.Equal(t, 1, tr.ActiveCount())
	assert.Equal(t, "stream-1_001", updates[0].Track.ID)
}

func TestTracker_GeometricContinuation(t *testing.T) {
	t.Parallel()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	tr := NewTracker("stream-1", testTrackingConfig(), 0.5)
	ctx := context.Background()

	_, err := tr.Update(ctx, []models.Detection{det(10, 10, 50, 50, 0.9)}, frame, 0, 0, fixedEmbedFn([]float32{1, 0, 0}))
	require.NoError(t, err)
	require.Equal(t, 1, tr.ActiveCount())

	// A near-identical bbox one frame later should match via IoU, not
	// spawn a second track.
	updates, err := tr.Update(ctx, []models.Detection{det(12, 11, 50, 50, 0.9)}, frame, 1, 1.0/30.0, fixedEmbedFn([]float32{1, 0, 0}))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].IsNew)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestTracker_ActiveTrackSurvivesBriefMiss(t *testing.T) {
	t.Parallel()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// MaxLostFrames defaults to 10 here: a single missed frame must not
	// evict the track from the active set (§3/§4.2 step 5) — it stays
	// active, state flipped to lost, still eligible for plain stage-1 IoU
	// re-matching next frame.
	cfg := testTrackingConfig()
	tr := NewTracker("stream-1", cfg, 0.5)
	ctx := context.Background()
	feat := []float32{1, 0, 0}

	_, err := tr.Update(ctx, []models.Detection{det(10, 10, 50, 50, 0.9)}, frame, 0, 0, fixedEmbedFn(feat))
	require.NoError(t, err)
	require.Equal(t, 1, tr.ActiveCount())

	_, err = tr.Update(ctx, nil, frame, 1, 1.0/30.0, fixedEmbedFn(feat))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.ActiveCount(), "a single missed frame must not evict the track from the active set")

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.TrackLost, snap[0].State)
	assert.Equal(t, 1, snap[0].FramesSinceSeen)

	// Reappears right where it was: stage 1 IoU should re-match it without
	// spawning a new track or going through the stage-2 revival path.
	updates, err := tr.Update(ctx, []models.Detection{det(11, 11, 50, 50, 0.9)}, frame, 2, 2.0/30.0, fixedEmbedFn(feat))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].IsNew)
	assert.False(t, updates[0].Reidentified)
	assert.Equal(t, models.TrackActive, updates[0].Track.State)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestTracker_MovesToLostAfterMaxLostFrames(t *testing.T) {
	t.Parallel()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cfg := testTrackingConfig()
	cfg.MaxLostFrames = 3
	tr := NewTracker("stream-1", cfg, 0.5)
	ctx := context.Background()
	feat := []float32{1, 0, 0}

	_, err := tr.Update(ctx, []models.Detection{det(10, 10, 50, 50, 0.9)}, frame, 0, 0, fixedEmbedFn(feat))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		_, err = tr.Update(ctx, nil, frame, i, float64(i)*0.1, fixedEmbedFn(feat))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, tr.ActiveCount(), "track must leave the active set once frames_since_seen >= max_lost_frames")

	// Still reappears within the revive window via stage-2 appearance
	// matching, since it moved into t.lost rather than being archived.
	updates, err := tr.Update(ctx, []models.Detection{det(11, 11, 50, 50, 0.9)}, frame, 4, 0.5, fixedEmbedFn(feat))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].IsNew)
	assert.True(t, updates[0].Reidentified)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestTracker_NoRevivalPastArchiveWindow(t *testing.T) {
	t.Parallel()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cfg := testTrackingConfig()
	cfg.MaxLostFrames = 1
	cfg.ArchiveAfterS = 2
	cfg.ReviveWindowS = 2
	tr := NewTracker("stream-1", cfg, 0.5)
	ctx := context.Background()
	feat := []float32{1, 0, 0}

	_, err := tr.Update(ctx, []models.Detection{det(10, 10, 50, 50, 0.9)}, frame, 0, 0, fixedEmbedFn(feat))
	require.NoError(t, err)

	_, err = tr.Update(ctx, nil, frame, 1, 0.5, fixedEmbedFn(feat))
	require.NoError(t, err)
	assert.Equal(t, 0, tr.ActiveCount())

	// Long past the revive window (and, once this update runs, the archive
	// window too): the same appearance feature at the same spot must spawn
	// a brand-new track, not revive the old one.
	updates, err := tr.Update(ctx, []models.Detection{det(11, 11, 50, 50, 0.9)}, frame, 2, 10.0, fixedEmbedFn(feat))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
}

func TestTracker_NoRevivalBeyondMaxSpeed(t *testing.T) {
	t.Parallel()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	cfg := testTrackingConfig()
	cfg.MaxLostFrames = 1
	cfg.MaxSpeedPxPerS = 1 // effectively forbids any spatial jump
	tr := NewTracker("stream-1", cfg, 0.5)
	ctx := context.Background()
	feat := []float32{1, 0, 0}

	_, err := tr.Update(ctx, []models.Detection{det(10, 10, 50, 50, 0.9)}, frame, 0, 0, fixedEmbedFn(feat))
	require.NoError(t, err)

	_, err = tr.Update(ctx, nil, frame, 1, 1.0, fixedEmbedFn(feat))
	require.NoError(t, err)
	require.Equal(t, 0, tr.ActiveCount())

	// Reappears with an identical feature but far away: the spatial gate
	// in stageTwoAppearance should reject the match even though cosine
	// similarity is perfect.
	updates, err := tr.Update(ctx, []models.Detection{det(400, 400, 50, 50, 0.9)}, frame, 2, 2.0, fixedEmbedFn(feat))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
}

func TestTracker_Seed(t *testing.T) {
	t.Parallel()

	tr := NewTracker("stream-1", testTrackingConfig(), 0.5)
	track := &models.Track{ID: "stream-1_007", LastBBox: models.BoundingBox{X: 1, Y: 1, W: 10, H: 10}, State: models.TrackActive}
	tr.Seed(track)
	assert.Equal(t, 1, tr.ActiveCount())

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "stream-1_007", snap[0].ID)
}

func TestTracker_StreamID(t *testing.T) {
	t.Parallel()
	tr := NewTracker("barn-9-cam-2", testTrackingConfig(), 0.5)
	assert.Equal(t, "barn-9-cam-2", tr.StreamID())
}
