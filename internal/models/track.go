package models

import "time"

// BoundingBox is an axis-aligned rectangle in pixels of the source frame.
type BoundingBox struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

func (b BoundingBox) Valid() bool { return b.W > 0 && b.H > 0 }

func (b BoundingBox) Center() (float32, float32) {
	return b.X + b.W/2, b.Y + b.H/2
}

func (b BoundingBox) X1Y1X2Y2() (x1, y1, x2, y2 float32) {
	return b.X, b.Y, b.X + b.W, b.Y + b.H
}

// Detection is a single per-frame object box, pre-association.
type Detection struct {
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
	ClassID    int         `json:"class_id"`
}

// KeypointCount is the fixed keypoint schema size for this system (§3).
const KeypointCount = 17

// Keypoint is one (x, y, conf) sample of the fixed 17-point horse skeleton.
type Keypoint struct {
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	Conf float32 `json:"conf"`
}

// Keypoints is the fixed-length per-box pose estimate.
type Keypoints [KeypointCount]Keypoint

// EmbeddingDim is the fixed appearance-embedding dimension for this system (§3).
const EmbeddingDim = 768

// TrackState is one of the three lifecycle states a Track can be in (§3).
type TrackState string

const (
	TrackActive   TrackState = "active"
	TrackLost     TrackState = "lost"
	TrackArchived TrackState = "archived"
)

// BBoxObservation is one entry of a track's bounded bbox history.
type BBoxObservation struct {
	Time float64
	BBox BoundingBox
	Conf float32
}

// Track is a persistent identity within the running tracker, mapped 1:1 to
// a warm RegistryEntry by ID (§3).
type Track struct {
	ID              string
	NumericLabel    int
	Color           [3]uint8 // RGB, deterministic from NumericLabel
	LastBBox        BoundingBox
	LastFrameSeen   int
	LastTimeSeen    float64
	FeatureVector   []float32 // running representative embedding, unit-norm
	FeatureHistory  []([]float32)
	BBoxHistory     []BBoxObservation
	VelocityHistory []float64
	State           TrackState
	FramesSinceSeen int
	TotalDetections int
	TrackConfidence float32
	FirstAppearanceFeature []float32
	Name            string
	IsOfficial      bool

	// Confidence is the running detection-confidence EMA (§4.2 step 6).
	Confidence float32

	// recentUpdates counts matched updates since creation, used to gate the
	// lazy re-embed schedule on stage-1 matches (§4.2).
	recentUpdates int
	lastKeypoints *Keypoints
	stateHistory  []string // last 15 raw state labels, for hysteresis (§4.4)
	lastEmitted   string
}

const (
	maxFeatureHistory  = 100
	maxBBoxHistory     = 100
	maxVelocityHistory = 10
	maxStateHistory    = 15
)

// PushFeature appends to the bounded feature-history deque (§3).
func (t *Track) PushFeature(f []float32) {
	t.FeatureHistory = append(t.FeatureHistory, f)
	if len(t.FeatureHistory) > maxFeatureHistory {
		t.FeatureHistory = t.FeatureHistory[len(t.FeatureHistory)-maxFeatureHistory:]
	}
}

// PushBBox appends to the bounded bbox-history deque (§3).
func (t *Track) PushBBox(o BBoxObservation) {
	t.BBoxHistory = append(t.BBoxHistory, o)
	if len(t.BBoxHistory) > maxBBoxHistory {
		t.BBoxHistory = t.BBoxHistory[len(t.BBoxHistory)-maxBBoxHistory:]
	}
}

// PushVelocity appends to the bounded velocity-history deque (§3).
func (t *Track) PushVelocity(v float64) {
	t.VelocityHistory = append(t.VelocityHistory, v)
	if len(t.VelocityHistory) > maxVelocityHistory {
		t.VelocityHistory = t.VelocityHistory[len(t.VelocityHistory)-maxVelocityHistory:]
	}
}

// PushStateLabel appends to the bounded raw-state-label deque used by the
// hysteresis rule in §4.4.
func (t *Track) PushStateLabel(label string) {
	t.stateHistory = append(t.stateHistory, label)
	if len(t.stateHistory) > maxStateHistory {
		t.stateHistory = t.stateHistory[len(t.stateHistory)-maxStateHistory:]
	}
}

func (t *Track) StateHistory() []string { return t.stateHistory }
func (t *Track) LastEmittedLabel() string { return t.lastEmitted }
func (t *Track) SetLastEmittedLabel(l string) { t.lastEmitted = l }

// RegistryEntry is the hot/warm serialized state of a track (§3, §6).
type RegistryEntry struct {
	ID                string    `json:"id"`
	TrackingID        string    `json:"tracking_id"`
	StreamID          string    `json:"stream_id"`
	BarnID            string    `json:"barn_id"`
	Name              string    `json:"name,omitempty"`
	IsOfficial        bool      `json:"is_official"`
	ColorHex          string    `json:"color_hex"`
	LastUpdatedTime   time.Time `json:"last_updated_time"`
	BBox              BoundingBox `json:"bbox"`
	Confidence        float32   `json:"confidence"`
	Features          []float32 `json:"features"`
	TotalDetections   int       `json:"total_detections"`
	TrackingConfidence float32  `json:"tracking_confidence"`
	Status            string    `json:"status"` // active | archived
	ThumbnailBytes    []byte    `json:"thumbnail_bytes,omitempty"`
}
