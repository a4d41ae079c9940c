package vision

import (
	"context"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
)

// SkeletonEdges is the fixed AP10K-style 17-point quadruped skeleton used
// by the renderer to draw limb lines between keypoint pairs. Indices are
// 0-based into a models.Keypoints array.
var SkeletonEdges = [][2]int{
	{0, 1}, {0, 2}, {1, 2}, {1, 3}, {2, 4}, // head/ears/eyes
	{0, 5}, {5, 6}, {6, 7}, // neck/withers/back
	{7, 8}, {8, 9}, // back/hip/tail-base
	{5, 10}, {10, 11}, {11, 12}, // left front leg
	{5, 13}, {13, 14}, {14, 15}, // right front leg
	{8, 16}, // tail tip
}

// KeypointEstimator predicts a fixed 17-point pose for one cropped box
// using an ONNX model. Modeled on the teacher's AttributePredictor
// (single-input, single-output ONNX head run on a pre-cropped region).
type KeypointEstimator struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

// NewKeypointEstimator loads the keypoint ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewKeypointEstimator(modelPath string, opts *ort.SessionOptions) (*KeypointEstimator, error) {
	inputW, inputH := 256, 256

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output: [17, 3] — (x, y, confidence) per keypoint, in crop-pixel space.
	outputShape := ort.NewShape(int64(models.KeypointCount), 3)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"keypoints"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create keypoint session: %w", err)
	}

	return &KeypointEstimator{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

// Estimate runs pose estimation on a single cropped box, already cut from
// the source frame, and returns keypoints scaled back to the crop's own
// pixel coordinates.
func (k *KeypointEstimator) Estimate(ctx context.Context, crop gocv.Mat) (*models.Keypoints, error) {
	cropW, cropH := crop.Cols(), crop.Rows()
	if cropW == 0 || cropH == 0 {
		return nil, fmt.Errorf("empty crop")
	}

	chw := letterboxToCHW(crop, k.inputW, k.inputH)
	inputSlice := k.inputTensor.GetData()
	copy(inputSlice, chw)

	if err := k.session.Run(); err != nil {
		return nil, fmt.Errorf("run keypoints: %w", err)
	}

	scaleW := float32(cropW) / float32(k.inputW)
	scaleH := float32(cropH) / float32(k.inputH)

	raw := k.outputTensor.GetData()
	var kp models.Keypoints
	for i := 0; i < models.KeypointCount; i++ {
		row := raw[i*3 : i*3+3]
		kp[i] = models.Keypoint{
			X:    clampF(row[0]*scaleW, 0, float32(cropW)),
			Y:    clampF(row[1]*scaleH, 0, float32(cropH)),
			Conf: row[2],
		}
	}

	return &kp, nil
}

func (k *KeypointEstimator) Close() error {
	if k.session != nil {
		k.session.Destroy()
	}
	if k.inputTensor != nil {
		k.inputTensor.Destroy()
	}
	if k.outputTensor != nil {
		k.outputTensor.Destroy()
	}
	return nil
}
