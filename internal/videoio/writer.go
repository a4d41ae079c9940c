package videoio

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Writer wraps gocv's VideoWriter to emit an H.264-encoded MP4 at a fixed
// output frame rate, independent of how many source frames were actually
// sampled (frame_interval), so the rendered chunk preserves the original
// wall-clock duration (§4.9).
type Writer struct {
	vw *gocv.VideoWriter
}

// NewWriter opens an output MP4 at outputFPS (not the processing rate —
// see §4.9) with the given frame dimensions, using the avc1 (H.264)
// fourcc so the result plays back as yuv420p MP4 without a transcode step.
func NewWriter(path string, outputFPS float64, width, height int) (*Writer, error) {
	vw, err := gocv.VideoWriterFile(path, "avc1", outputFPS, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	return &Writer{vw: vw}, nil
}

// Write appends one rendered frame to the output stream.
func (w *Writer) Write(frame gocv.Mat) error {
	return w.vw.Write(frame)
}

// WriteRepeated appends the same rendered frame `times` times, the
// duplication gocv's VideoWriter needs in place of a separate input-rate /
// output-rate knob: each sampled frame stands in for itself plus the
// frame_interval-1 source frames skipped to reach it, so the encoded
// video's frame count still covers the original wall-clock duration
// (§4.9, §8 "Stride preservation").
func (w *Writer) WriteRepeated(frame gocv.Mat, times int) error {
	if times < 1 {
		times = 1
	}
	for i := 0; i < times; i++ {
		if err := w.vw.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	return w.vw.Close()
}
