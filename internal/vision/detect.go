package vision

import (
	"context"
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
)

// horseClassID is the single class of interest this system filters
// detections to (§3 "the system filters to a single class of interest").
const horseClassID = 0

// Detector runs a single-class object detector (horse) using ONNX Runtime.
// The exported model produces one flat output tensor of rows
// [x1, y1, x2, y2, confidence, class_id] in input-pixel space; Detect runs
// its own NMS pass over that output.
type Detector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	maxDets      int
}

// NewDetector loads the horse-detection ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640
	maxDets := 300

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(int64(maxDets), 6)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"detections"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		maxDets:      maxDets,
	}, nil
}

// Detect runs horse detection on one decoded frame and returns boxes scaled
// back to the frame's original pixel coordinates, already NMS'd.
func (d *Detector) Detect(ctx context.Context, img gocv.Mat, threshold float32) ([]models.Detection, error) {
	origW, origH := img.Cols(), img.Rows()

	chw := letterboxToCHW(img, d.inputW, d.inputH)
	inputSlice := d.inputTensor.GetData()
	copy(inputSlice, chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	// Undo letterboxToCHW: one uniform scale plus centered padding.
	scale := float64(d.inputW) / float64(origW)
	if s := float64(d.inputH) / float64(origH); s < scale {
		scale = s
	}
	padLeft := float32((d.inputW - int(float64(origW)*scale)) / 2)
	padTop := float32((d.inputH - int(float64(origH)*scale)) / 2)
	inv := float32(1 / scale)

	raw := d.outputTensor.GetData()
	var dets []models.Detection
	for i := 0; i < d.maxDets; i++ {
		row := raw[i*6 : i*6+6]
		conf := row[4]
		classID := int(row[5])
		if conf < threshold || classID != horseClassID {
			continue
		}
		x1 := clampF((row[0]-padLeft)*inv, 0, float32(origW))
		y1 := clampF((row[1]-padTop)*inv, 0, float32(origH))
		x2 := clampF((row[2]-padLeft)*inv, 0, float32(origW))
		y2 := clampF((row[3]-padTop)*inv, 0, float32(origH))
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		dets = append(dets, models.Detection{
			BBox:       models.BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1},
			Confidence: conf,
			ClassID:    classID,
		})
	}

	return nms(dets, 0.45), nil
}

func (d *Detector) Close() error {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
	return nil
}

// nms performs Non-Maximum Suppression over boxes of the same class.
func nms(dets []models.Detection, iouThreshold float32) []models.Detection {
	if len(dets) == 0 {
		return dets
	}

	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	keep := make([]bool, len(dets))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(dets); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(dets); j++ {
			if !keep[j] {
				continue
			}
			if IoU(dets[i].BBox, dets[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []models.Detection
	for i, dd := range dets {
		if keep[i] {
			result = append(result, dd)
		}
	}
	return result
}

// IoU computes intersection-over-union of two axis-aligned boxes.
func IoU(a, b models.BoundingBox) float32 {
	ax1, ay1, ax2, ay2 := a.X1Y1X2Y2()
	bx1, by1, bx2, by2 := b.X1Y1X2Y2()

	x1 := maxF(ax1, bx1)
	y1 := maxF(ay1, by1)
	x2 := minF(ax2, bx2)
	y2 := minF(ay2, by2)

	inter := maxF(0, x2-x1) * maxF(0, y2-y1)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
