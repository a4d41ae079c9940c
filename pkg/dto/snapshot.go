package dto

import "github.com/barnhand/corral/internal/models"

// SnapshotQuery carries the optional confidence_threshold query param for
// POST /v1/snapshot (§6 Snapshot detection request, default 0.3).
type SnapshotQuery struct {
	ConfidenceThreshold float64 `form:"confidence_threshold"`
}

// SnapshotResponse mirrors models.SnapshotResponse; kept as a distinct DTO
// type so the wire shape can diverge from the internal model without
// touching internal/vision callers.
type SnapshotResponse struct {
	HorsesDetected   bool                       `json:"horses_detected"`
	Count            int                        `json:"count"`
	Detections       []models.SnapshotDetection `json:"detections"`
	ProcessingTimeMS float64                    `json:"processing_time_ms"`
}

func FromSnapshotResponse(r models.SnapshotResponse) SnapshotResponse {
	return SnapshotResponse{
		HorsesDetected:   r.HorsesDetected,
		Count:            r.Count,
		Detections:       r.Detections,
		ProcessingTimeMS: r.ProcessingTimeMS,
	}
}

// WSProgressEvent is the WebSocket message broadcast for chunk job progress
// (§11, teacher: pkg/dto.WSEvent face-detection event -> here a chunk
// progress/terminal event instead).
type WSProgressEvent struct {
	Type     string `json:"type"` // chunk_progress | chunk_completed | chunk_failed
	ChunkID  string `json:"chunk_id"`
	StreamID string `json:"stream_id,omitempty"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Step     string `json:"step,omitempty"`
	Error    string `json:"error,omitempty"`
}
