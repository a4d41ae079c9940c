package vision

import (
	"fmt"
)

// trackingColors is the fixed 10-entry hex palette assigned round-robin to
// new tracks by creation order, giving a deterministic numeric_label →
// color mapping across reruns (§3).
var trackingColors = [10]string{
	"#ff6b6b", // Red
	"#4ecdc4", // Teal
	"#45b7d1", // Blue
	"#96ceb4", // Mint
	"#feca57", // Yellow
	"#ff9ff3", // Pink
	"#54a0ff", // Light Blue
	"#5f27cd", // Purple
	"#00d2d3", // Cyan
	"#ff9f43", // Orange
}

// ColorForLabel returns the deterministic hex color for a track's
// numeric_label (assigned round-robin over trackingColors by creation order).
func ColorForLabel(numericLabel int) string {
	return trackingColors[numericLabel%len(trackingColors)]
}

// ColorRGBForLabel returns the same color decoded to RGB bytes.
func ColorRGBForLabel(numericLabel int) [3]uint8 {
	hex := trackingColors[numericLabel%len(trackingColors)]
	var r, g, b uint8
	_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	return [3]uint8{r, g, b}
}
