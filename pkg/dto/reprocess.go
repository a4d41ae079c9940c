package dto

import "github.com/barnhand/corral/internal/models"

// ReprocessRequest is the POST /v1/chunks/:chunk_id/reprocess request body
// (§6 Reprocessing request).
type ReprocessRequest struct {
	Corrections []models.Correction `json:"corrections" binding:"required"`
}

// ReprocessResultResponse is returned once a reprocessing job completes.
type ReprocessResultResponse struct {
	ChunkID           string   `json:"chunk_id"`
	FramesRewritten   int      `json:"frames_rewritten"`
	IdentitiesTouched []string `json:"identities_touched"`
}

func FromReprocessingResult(r *models.ReprocessingResult) ReprocessResultResponse {
	return ReprocessResultResponse{
		ChunkID:           r.ChunkID,
		FramesRewritten:   r.FramesRewritten,
		IdentitiesTouched: r.IdentitiesTouched,
	}
}
