package chunkproc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barnhand/corral/internal/config"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/vision"
)

func TestFinalize(t *testing.T) {
	t.Parallel()

	tracker := vision.NewTracker("stream-1", config.TrackingConfig{}, 0.5)
	tracker.Seed(&models.Track{ID: "stream-1_001", State: models.TrackActive, Name: "Secretariat", IsOfficial: true})
	tracker.Seed(&models.Track{ID: "stream-1_002", State: models.TrackActive})

	record := &models.ChunkRecord{
		Frames: []models.FrameRecord{
			{
				FrameIndex: 0,
				Tracked: []models.TrackedBox{
					{TrackID: "stream-1_001", Confidence: 0.9},
					{TrackID: "stream-1_002", Confidence: 0.8},
				},
			},
			{
				FrameIndex: 1,
				Tracked: []models.TrackedBox{
					{TrackID: "stream-1_001", Confidence: 0.7},
				},
			},
			{
				FrameIndex: 2,
				Tracked: []models.TrackedBox{
					{TrackID: "stream-1_001", Confidence: 1.0},
				},
			},
		},
	}

	finalize(record, tracker, 3, 0)

	require.Len(t, record.Horses, 2)

	byID := make(map[string]models.HorseSummary, len(record.Horses))
	for _, h := range record.Horses {
		byID[h.HorseID] = h
	}

	h1 := byID["stream-1_001"]
	assert.Equal(t, 0, h1.FirstFrame)
	assert.Equal(t, 2, h1.LastFrame)
	assert.Equal(t, 3, h1.TotalDetections)
	assert.InDelta(t, (0.9+0.7+1.0)/3, h1.MeanConfidence, 1e-5)
	assert.Equal(t, "Secretariat", h1.Name)
	assert.True(t, h1.IsOfficial)

	h2 := byID["stream-1_002"]
	assert.Equal(t, 0, h2.FirstFrame)
	assert.Equal(t, 0, h2.LastFrame)
	assert.Equal(t, 1, h2.TotalDetections)
	assert.False(t, h2.IsOfficial)

	assert.Equal(t, 2, record.Summary.TotalHorses)
	assert.Equal(t, 4, record.Summary.TotalDetections)
	assert.Equal(t, 3, record.Summary.FramesProcessed)
	assert.Equal(t, 0, record.Summary.FramesSkipped)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "archived", statusFor(models.TrackArchived))
	assert.Equal(t, "active", statusFor(models.TrackActive))
	assert.Equal(t, "active", statusFor(models.TrackLost))
}
