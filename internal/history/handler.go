package history

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pulse-overlay/backend/pkg/response"
)

// Handler serves the poll history endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a history handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListRecent handles GET /polls/history.
func (h *Handler) ListRecent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := h.repo.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Internal(c, "failed to load poll history")
		return
	}
	if records == nil {
		records = []*Record{}
	}
	response.OK(c, records)
}
