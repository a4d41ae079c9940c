package dto

import "github.com/barnhand/corral/internal/models"

// SubmitRequest is the POST /v1/chunks request body (§6 Processing request).
type SubmitRequest struct {
	ChunkPath       string                    `json:"chunk_path" binding:"required"`
	StreamID        string                    `json:"stream_id" binding:"required"`
	BarnID          string                    `json:"barn_id" binding:"required"`
	ChunkID         string                    `json:"chunk_id" binding:"required"`
	OutputVideoPath string                    `json:"output_video_path" binding:"required"`
	OutputJSONPath  string                    `json:"output_json_path" binding:"required"`
	StartTime       float64                   `json:"start_time"`
	FrameInterval   int                       `json:"frame_interval"`
	Options         models.ProcessingOptions  `json:"options"`
}

func (r SubmitRequest) ToProcessingRequest() models.ProcessingRequest {
	frameInterval := r.FrameInterval
	if frameInterval <= 0 {
		frameInterval = 1
	}
	return models.ProcessingRequest{
		ChunkPath:       r.ChunkPath,
		StreamID:        r.StreamID,
		BarnID:          r.BarnID,
		ChunkID:         r.ChunkID,
		OutputVideoPath: r.OutputVideoPath,
		OutputJSONPath:  r.OutputJSONPath,
		StartTime:       r.StartTime,
		FrameInterval:   frameInterval,
		Options:         r.Options,
	}
}

// JobStatusResponse mirrors models.JobStatus for the submit/reprocess/status
// endpoints (§6).
type JobStatusResponse struct {
	JobID    string `json:"job_id"`
	ChunkID  string `json:"chunk_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Step     string `json:"step"`
	Error    string `json:"error,omitempty"`
}

func FromJobStatus(s *models.JobStatus) JobStatusResponse {
	return JobStatusResponse{
		JobID:    s.JobID,
		ChunkID:  s.ChunkID,
		Status:   string(s.Status),
		Progress: s.Progress,
		Step:     s.Step,
		Error:    s.Error,
	}
}
