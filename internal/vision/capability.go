package vision

import (
	"context"

	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
)

// Detector, KeypointEstimator and Embedder are expressed as capability-set
// interfaces with variants {remote, local, mock} (§9 Design Notes). The
// pipeline holds only these interfaces, never a concrete type; the backend
// variant is chosen once at worker construction from config.VisionConfig.Backend.

// DetectorCapability returns object boxes with class and confidence for one frame.
type DetectorCapability interface {
	Detect(ctx context.Context, img gocv.Mat, threshold float32) ([]models.Detection, error)
	Close() error
}

// KeypointCapability returns a fixed-length keypoint array for one cropped box.
type KeypointCapability interface {
	Estimate(ctx context.Context, crop gocv.Mat) (*models.Keypoints, error)
	Close() error
}

// EmbedderCapability returns a unit-norm appearance vector for one cropped box.
type EmbedderCapability interface {
	Extract(ctx context.Context, crop gocv.Mat) ([]float32, error)
	Dim() int
	Close() error
}
