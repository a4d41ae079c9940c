package videoio

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/vision"
)

// Renderer draws bounding boxes, identity labels and skeleton overlays onto
// a frame, deterministically from a FrameRecord's tracked boxes and
// keypoints (§4.5). Determinism means: given the same FrameRecord and
// frame pixels, two render passes must draw byte-identical output (§8) —
// this renderer never reads wall-clock time or randomness.
type Renderer struct {
	boxThickness  int
	skeletonThick int
}

// NewRenderer creates a renderer with the teacher-idiom default line
// weights (kept fixed rather than config-driven, since the spec does not
// expose this as a tunable).
func NewRenderer() *Renderer {
	return &Renderer{boxThickness: 2, skeletonThick: 2}
}

// DrawFrame overlays every tracked box (with label and color) and, when
// present, its skeleton onto frame in place.
func (r *Renderer) DrawFrame(frame *gocv.Mat, rec models.FrameRecord) {
	for _, tb := range rec.Tracked {
		c := hexToColor(tb.Color)
		r.drawBox(frame, tb, c)

		if kp, ok := rec.Keypoints[tb.TrackID]; ok {
			r.drawSkeleton(frame, kp, c)
		}
	}
}

func (r *Renderer) drawBox(frame *gocv.Mat, tb models.TrackedBox, c color.RGBA) {
	x1, y1, x2, y2 := tb.BBox.X1Y1X2Y2()
	rect := image.Rect(int(x1), int(y1), int(x2), int(y2))
	gocv.Rectangle(frame, rect, c, r.boxThickness)

	label := tb.TrackID
	if tb.HorseName != "" {
		label = tb.HorseName
	}
	if tb.State != "" {
		label = fmt.Sprintf("%s [%s]", label, tb.State)
	}

	labelOrigin := image.Pt(int(x1), int(y1)-8)
	if labelOrigin.Y < 12 {
		labelOrigin.Y = int(y1) + 16
	}
	gocv.PutText(frame, label, labelOrigin, gocv.FontHersheySimplex, 0.5, c, 1)
}

func (r *Renderer) drawSkeleton(frame *gocv.Mat, kp models.Keypoints, c color.RGBA) {
	for _, edge := range vision.SkeletonEdges {
		a, b := kp[edge[0]], kp[edge[1]]
		if a.Conf < 0.3 || b.Conf < 0.3 {
			continue
		}
		gocv.Line(frame,
			image.Pt(int(a.X), int(a.Y)),
			image.Pt(int(b.X), int(b.Y)),
			c, r.skeletonThick)
	}
	for _, p := range kp {
		if p.Conf < 0.3 {
			continue
		}
		gocv.Circle(frame, image.Pt(int(p.X), int(p.Y)), 3, c, -1)
	}
}

func hexToColor(hex string) color.RGBA {
	var r, g, b uint8
	if hex == "" {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
