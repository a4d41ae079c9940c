package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/barnhand/corral/internal/registry"
	"github.com/barnhand/corral/pkg/dto"
)

// BarnHandler serves the barn horse roster endpoint (§13), the horse-domain
// analogue of the teacher's CollectionHandler/PersonHandler list endpoints
// pointed at the warm registry instead of a Postgres persons table.
type BarnHandler struct {
	warm *registry.Warm
}

func NewBarnHandler(warm *registry.Warm) *BarnHandler {
	return &BarnHandler{warm: warm}
}

// Horses handles GET /v1/barns/:barn_id/horses.
func (h *BarnHandler) Horses(c *gin.Context) {
	barnID := c.Param("barn_id")

	entries, err := h.warm.ActiveByBarn(c.Request.Context(), barnID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.HorseListResponse{Horses: make([]dto.HorseResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Horses = append(resp.Horses, dto.FromRegistryEntry(e))
	}
	resp.Total = len(resp.Horses)
	c.JSON(http.StatusOK, resp)
}
