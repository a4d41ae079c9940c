package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// letterboxToCHW resizes img to targetW x targetH preserving aspect ratio by
// padding with mid-grey (114,114,114), then converts to a planar CHW
// float32 buffer normalised to [0, 1] in RGB order. This matches the
// preprocessing contract of the exported detection model (§9 local variant).
func letterboxToCHW(img gocv.Mat, targetW, targetH int) []float32 {
	srcW, srcH := img.Cols(), img.Rows()

	scale := float64(targetW) / float64(srcW)
	if s := float64(targetH) / float64(srcH); s < scale {
		scale = s
	}
	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), targetH, targetW, img.Type())
	defer padded.Close()

	padLeft := (targetW - newW) / 2
	padTop := (targetH - newH) / 2
	roi := padded.Region(image.Rect(padLeft, padTop, padLeft+newW, padTop+newH))
	resized.CopyTo(&roi)
	roi.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(padded, &rgb, gocv.ColorBGRToRGB)

	planeSize := targetW * targetH
	data := make([]float32, 3*planeSize)

	buf, err := rgb.DataPtrUint8()
	if err != nil {
		return data
	}
	for y := 0; y < targetH; y++ {
		rowOff := y * targetW * 3
		for x := 0; x < targetW; x++ {
			p := rowOff + x*3
			idx := y*targetW + x
			data[idx] = float32(buf[p]) / 255.0
			data[planeSize+idx] = float32(buf[p+1]) / 255.0
			data[2*planeSize+idx] = float32(buf[p+2]) / 255.0
		}
	}

	return data
}

// cropMat returns a deep copy of the region of img described by bbox,
// clamped to img's bounds.
func cropMat(img gocv.Mat, x1, y1, x2, y2 int) gocv.Mat {
	w, h := img.Cols(), img.Rows()
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
	region := img.Region(image.Rect(x1, y1, x2, y2))
	defer region.Close()
	out := gocv.NewMat()
	region.CopyTo(&out)
	return out
}
