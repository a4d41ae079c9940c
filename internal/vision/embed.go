package vision

import (
	"context"
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
)

// Embedder extracts appearance embeddings for re-identification using an
// ONNX feature-extraction model. Same session-construction shape as the
// teacher's ArcFace embedder, generalized to the spec's 768-dim output.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewEmbedder loads the appearance-embedding ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	inputW, inputH := 224, 224
	embDim := models.EmbeddingDim

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"embedding"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// Extract runs appearance-embedding extraction on a cropped box and returns
// a unit-norm EmbeddingDim-length vector.
func (e *Embedder) Extract(ctx context.Context, crop gocv.Mat) ([]float32, error) {
	if crop.Empty() {
		return nil, fmt.Errorf("empty crop")
	}

	chw := letterboxToCHW(crop, e.inputW, e.inputH)
	inputSlice := e.inputTensor.GetData()
	copy(inputSlice, chw)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	outputData := e.outputTensor.GetData()

	embedding := make([]float32, e.embDim)
	copy(embedding, outputData)

	normalize(embedding)

	return embedding, nil
}

// Dim returns the embedding vector dimension.
func (e *Embedder) Dim() int {
	return e.embDim
}

func (e *Embedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
	return nil
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, assumed already unit-norm (returns the raw dot product in that
// case, which equals cosine similarity).
func CosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}
