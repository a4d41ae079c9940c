package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barnhand/corral/internal/corralerr"
	"github.com/barnhand/corral/internal/models"
	"github.com/barnhand/corral/internal/reprocess"
	"github.com/barnhand/corral/internal/scheduler"
	"github.com/barnhand/corral/pkg/dto"
)

// ChunkHandler serves the chunk submission, reprocessing, and status
// endpoints (§6), the horse-domain analogue of the teacher's stream/event
// handlers pointed at the scheduler instead of a Postgres event table.
type ChunkHandler struct {
	sched       *scheduler.Scheduler
	reprocessor *reprocess.Reprocessor
}

func NewChunkHandler(sched *scheduler.Scheduler, reprocessor *reprocess.Reprocessor) *ChunkHandler {
	return &ChunkHandler{sched: sched, reprocessor: reprocessor}
}

// Submit handles POST /v1/chunks (§6 Processing request).
func (h *ChunkHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.sched.Submit(c.Request.Context(), req.ToProcessingRequest())
	if err != nil {
		writeSchedulerError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.FromJobStatus(status))
}

// Status handles GET /v1/chunks/:chunk_id/status (§6).
func (h *ChunkHandler) Status(c *gin.Context) {
	chunkID := c.Param("chunk_id")
	status, ok := h.sched.Status(chunkID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chunk_id"})
		return
	}
	c.JSON(http.StatusOK, dto.FromJobStatus(status))
}

// Reprocess handles POST /v1/chunks/:chunk_id/reprocess (§6 Reprocessing
// request). Runs synchronously against the reprocessor — corrections are a
// bounded, file-local operation (§4.7), unlike the unbounded chunk
// processing pipeline which goes through the scheduler's job queue.
func (h *ChunkHandler) Reprocess(c *gin.Context) {
	chunkID := c.Param("chunk_id")
	var body dto.ReprocessRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := models.ReprocessRequest{ChunkID: chunkID, Corrections: body.Corrections}
	result, err := h.reprocessor.Run(c.Request.Context(), req, nil)
	if err != nil {
		writeReprocessError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromReprocessingResult(result))
}

func writeSchedulerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, corralerr.ErrAlreadyInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, corralerr.ErrCapacityExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func writeReprocessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, corralerr.ErrInputNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, corralerr.ErrCorrectionInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
