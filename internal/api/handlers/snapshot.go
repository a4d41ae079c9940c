package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/vision"
	"github.com/barnhand/corral/pkg/dto"
)

// SnapshotHandler serves the detector-only snapshot-detection endpoint
// (§6, §13), mirroring original_source/services/snapshot_detector.py's
// "detector only, no tracking" contract.
type SnapshotHandler struct {
	detector         vision.DetectorCapability
	defaultThreshold float64
}

func NewSnapshotHandler(detector vision.DetectorCapability, defaultThreshold float64) *SnapshotHandler {
	if defaultThreshold <= 0 {
		defaultThreshold = 0.3
	}
	return &SnapshotHandler{detector: detector, defaultThreshold: defaultThreshold}
}

// Detect handles POST /v1/snapshot. Body is raw JPEG/PNG bytes;
// ?confidence_threshold= overrides the configured default. Target latency
// is < 500 ms on 1080p (§6).
func (h *SnapshotHandler) Detect(c *gin.Context) {
	var q dto.SnapshotQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	threshold := q.ConfidenceThreshold
	if threshold <= 0 {
		threshold = h.defaultThreshold
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}

	img, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decode image: " + err.Error()})
		return
	}
	defer img.Close()
	if img.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty or undecodable image"})
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	detections, err := h.detector.Detect(ctx, img, float32(threshold))
	elapsed := time.Since(start)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "detect: " + err.Error()})
		return
	}

	out := make([]models.SnapshotDetection, 0, len(detections))
	for _, d := range detections {
		x1, y1, x2, y2 := d.BBox.X1Y1X2Y2()
		out = append(out, models.SnapshotDetection{
			BBox:       [4]float32{x1, y1, x2, y2},
			Confidence: d.Confidence,
			ClassName:  "horse",
		})
	}

	resp := models.SnapshotResponse{
		HorsesDetected:   len(out) > 0,
		Count:            len(out),
		Detections:       out,
		ProcessingTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}
	c.JSON(http.StatusOK, dto.FromSnapshotResponse(resp))
}
