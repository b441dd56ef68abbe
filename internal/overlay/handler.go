package overlay

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulse-overlay/backend/pkg/response"
)

// HashHeader carries the snapshot content hash on pull responses so fallback
// clients can skip re-rendering unchanged state.
const HashHeader = "X-Snapshot-Hash"

// Handler serves the pull endpoint used when a display's push channel is down.
type Handler struct {
	publisher *Publisher
}

// NewHandler creates the overlay pull handler.
func NewHandler(p *Publisher) *Handler {
	return &Handler{publisher: p}
}

// GetSnapshot handles GET /overlay/snapshot. When the client sends the hash of
// its last applied snapshot and nothing changed, it gets 304 and saves a
// render.
func (h *Handler) GetSnapshot(c *gin.Context) {
	payload, err := h.publisher.Current(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to compose snapshot")
		return
	}
	hash := Hash(payload)
	c.Header(HashHeader, hash)
	if c.Query("hash") == hash {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}
