package models

import "time"

// TrackedBox is one entry of FrameRecord.Tracked (§3).
type TrackedBox struct {
	TrackID    string      `json:"track_id"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
	Color      string      `json:"color"` // "#RRGGBB"
	State      TrackState  `json:"state"`
	IsNew      bool        `json:"is_new"`
	HorseName  string      `json:"horse_name,omitempty"`
}

// FrameRecord is the per-frame-index entry of a ChunkRecord (§3).
type FrameRecord struct {
	FrameIndex  int                   `json:"frame_index"`
	Timestamp   float64               `json:"timestamp"`
	Tracked     []TrackedBox          `json:"tracked"`
	Keypoints   map[string]Keypoints  `json:"keypoints,omitempty"`
	StateLabel  map[string]string     `json:"state_label,omitempty"`
	Processed   bool                  `json:"processed"`
}

// HorseSummary is one identity's chunk-level rollup (§3, §4.6).
type HorseSummary struct {
	HorseID         string  `json:"horse_id"`
	FirstFrame      int     `json:"first_frame"`
	LastFrame       int     `json:"last_frame"`
	TotalDetections int     `json:"total_detections"`
	MeanConfidence  float32 `json:"mean_confidence"`
	Name            string  `json:"name,omitempty"`
	IsOfficial      bool    `json:"is_official"`
}

// ChunkSummary holds aggregate counts and tracker statistics (§3, §4.6).
type ChunkSummary struct {
	TotalHorses    int `json:"total_horses"`
	TotalDetections int `json:"total_detections"`
	FramesProcessed int `json:"frames_processed"`
	FramesSkipped   int `json:"frames_skipped"`
}

// VideoMetadata records the playback rates needed for faithful
// reconstruction by the reprocessor (§4.9).
type VideoMetadata struct {
	FPS            float64 `json:"fps"`
	FrameInterval  int     `json:"frame_interval"`
}

// ChunkRecord is the persisted JSON summary of one processed chunk (§3).
type ChunkRecord struct {
	ChunkID       string          `json:"chunk_id"`
	StreamID      string          `json:"stream_id"`
	BarnID        string          `json:"barn_id"`
	DurationS     float64         `json:"duration_s"`
	FPS           float64         `json:"fps"`
	ProcessingFPS float64         `json:"processing_fps"`
	FrameCount    int             `json:"frame_count"`
	ProcessedAt   time.Time       `json:"processed_at"`
	Frames        []FrameRecord   `json:"frames"`
	Horses        []HorseSummary  `json:"horses"`
	Summary       ChunkSummary    `json:"summary"`
	VideoMetadata VideoMetadata   `json:"video_metadata"`
}

// CorrectionType enumerates the three correction kinds of §3/§4.7.
type CorrectionType string

const (
	CorrectionReassign      CorrectionType = "reassign"
	CorrectionNewGuest      CorrectionType = "new_guest"
	CorrectionMarkIncorrect CorrectionType = "mark_incorrect"
)

// Correction addresses a single (frame_index, detection_index) slot in a
// previously-processed ChunkRecord (§3).
type Correction struct {
	FrameIndex         int            `json:"frame_index"`
	DetectionIndex     int            `json:"detection_index"`
	CorrectionType     CorrectionType `json:"correction_type"`
	OriginalHorseID    string         `json:"original_horse_id"`
	CorrectedHorseID   string         `json:"corrected_horse_id,omitempty"`
	CorrectedHorseName string         `json:"corrected_horse_name,omitempty"`
}

// ProcessingRequest is the job submitted to the scheduler (§6).
type ProcessingRequest struct {
	ChunkPath       string  `json:"chunk_path"`
	StreamID        string  `json:"stream_id"`
	BarnID          string  `json:"barn_id"`
	ChunkID         string  `json:"chunk_id"`
	OutputVideoPath string  `json:"output_video_path"`
	OutputJSONPath  string  `json:"output_json_path"`
	StartTime       float64 `json:"start_time"`
	FrameInterval   int     `json:"frame_interval"`
	Options         ProcessingOptions `json:"options"`
}

// ProcessingOptions are the recognized per-job overrides (§6).
type ProcessingOptions struct {
	DetectionThreshold  float64 `json:"detection_threshold"`
	KeypointThreshold   float64 `json:"keypoint_threshold"`
	AppearanceThreshold float64 `json:"appearance_threshold"`
	MaxLostFrames       int     `json:"max_lost_frames"`
	ReviveWindowS       int     `json:"revive_window_s"`
}

// ReprocessRequest is the §6 reprocessing request shape.
type ReprocessRequest struct {
	ChunkID     string       `json:"chunk_id"`
	Corrections []Correction `json:"corrections"`
}

type JobStatusValue string

const (
	JobPending   JobStatusValue = "pending"
	JobRunning   JobStatusValue = "running"
	JobCompleted JobStatusValue = "completed"
	JobFailed    JobStatusValue = "failed"
)

// JobStatus is the queryable status shape returned for submit/reprocess (§6).
type JobStatus struct {
	JobID    string         `json:"job_id"`
	ChunkID  string         `json:"chunk_id"`
	Status   JobStatusValue `json:"status"`
	Progress int            `json:"progress"`
	Step     string         `json:"step"`
	Error    string         `json:"error,omitempty"`
}

// ReprocessingResult is returned by the reprocessor entry point (§4.7).
type ReprocessingResult struct {
	ChunkID        string   `json:"chunk_id"`
	FramesRewritten int     `json:"frames_rewritten"`
	IdentitiesTouched []string `json:"identities_touched"`
}

// SnapshotDetection is one box in a snapshot-detection response (§6).
type SnapshotDetection struct {
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2
	Confidence float32    `json:"confidence"`
	ClassName  string     `json:"class_name"`
}

// SnapshotResponse is the §6 snapshot-detection response shape.
type SnapshotResponse struct {
	HorsesDetected   bool                `json:"horses_detected"`
	Count            int                 `json:"count"`
	Detections       []SnapshotDetection `json:"detections"`
	ProcessingTimeMS  float64            `json:"processing_time_ms"`
}
