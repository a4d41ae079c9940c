package vision

import (
	"context"
	"math"

	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
)

// MockDetector, MockKeypointEstimator and MockEmbedder implement the
// capability interfaces with deterministic, data-free behavior for tests
// and local development without ONNX model files on disk (§9 Design
// Notes: "mock" variant of each capability set).

type MockDetector struct {
	// FixedDetections is returned from every Detect call, minus entries
	// whose confidence is below the threshold.
	FixedDetections []models.Detection
}

func (m *MockDetector) Detect(ctx context.Context, img gocv.Mat, threshold float32) ([]models.Detection, error) {
	var out []models.Detection
	for _, d := range m.FixedDetections {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockDetector) Close() error { return nil }

type MockKeypointEstimator struct{}

func (m *MockKeypointEstimator) Estimate(ctx context.Context, crop gocv.Mat) (*models.Keypoints, error) {
	w, h := float32(crop.Cols()), float32(crop.Rows())
	var kp models.Keypoints
	for i := range kp {
		kp[i] = models.Keypoint{X: w / 2, Y: h / 2, Conf: 0.9}
	}
	return &kp, nil
}

func (m *MockKeypointEstimator) Close() error { return nil }

// MockEmbedder returns a deterministic unit vector derived from the crop's
// dimensions, so repeated calls on the same-sized crop are stable (useful
// for exercising the tracker's appearance-matching path without real
// model weights).
type MockEmbedder struct {
	dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = models.EmbeddingDim
	}
	return &MockEmbedder{dim: dim}
}

func (m *MockEmbedder) Extract(ctx context.Context, crop gocv.Mat) ([]float32, error) {
	seed := float32(crop.Cols()*crop.Rows()%997 + 1)
	v := make([]float32, m.dim)
	for i := range v {
		v[i] = float32(math.Sin(float64(seed) * float64(i+1)))
	}
	normalize(v)
	return v, nil
}

func (m *MockEmbedder) Dim() int { return m.dim }

func (m *MockEmbedder) Close() error { return nil }
