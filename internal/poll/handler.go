package poll

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pulse-overlay/backend/pkg/response"
)

// StartRequest is the body for POST /polls.
type StartRequest struct {
	Question        string   `json:"question" binding:"required"`
	Options         []string `json:"options" binding:"required"`
	DurationSeconds int      `json:"duration_seconds"`
}

// VoteRequest is the body for POST /polls/vote.
type VoteRequest struct {
	VoterID     string `json:"voter_id" binding:"required"`
	OptionIndex *int   `json:"option_index" binding:"required"`
}

// EnqueueRequest is the body for POST /polls/queue.
type EnqueueRequest struct {
	Question        string   `json:"question" binding:"required"`
	Options         []string `json:"options" binding:"required"`
	DurationSeconds int      `json:"duration_seconds"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a poll handler.
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Start handles POST /polls.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	st, err := h.engine.StartPoll(c.Request.Context(), req.Question, req.Options, req.DurationSeconds)
	switch {
	case errors.Is(err, ErrInvalidPoll):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrAlreadyActive):
		response.Conflict(c, err.Error())
	case err != nil:
		h.logger.Error("start poll failed", zap.Error(err))
		response.Internal(c, "failed to start poll")
	default:
		response.Created(c, st)
	}
}

// Vote handles POST /polls/vote. A vote that arrives after the timer elapsed
// also nudges resolution, since this request may be the first invocation to
// notice the expiry.
func (h *Handler) Vote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: voter_id and option_index required")
		return
	}
	err := h.engine.CastVote(c.Request.Context(), req.VoterID, *req.OptionIndex)
	switch {
	case errors.Is(err, ErrInvalidOption):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrNoActivePoll):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrPollExpired):
		if _, rerr := h.engine.ResolveDue(c.Request.Context()); rerr != nil {
			h.logger.Warn("resolve on late vote failed", zap.Error(rerr))
		}
		response.Conflict(c, err.Error())
	case err != nil:
		h.logger.Error("cast vote failed", zap.Error(err))
		response.Internal(c, "failed to record vote")
	default:
		response.OK(c, gin.H{"voter_id": req.VoterID, "option_index": *req.OptionIndex})
	}
}

// Enqueue handles POST /polls/queue.
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q := QueuedPoll{Question: req.Question, Options: req.Options, DurationSeconds: req.DurationSeconds}
	if err := h.engine.Enqueue(c.Request.Context(), q); err != nil {
		if errors.Is(err, ErrInvalidPoll) {
			response.BadRequest(c, err.Error())
			return
		}
		h.logger.Error("enqueue poll failed", zap.Error(err))
		response.Internal(c, "failed to queue poll")
		return
	}
	n, _ := h.engine.QueueLen(c.Request.Context())
	response.Created(c, gin.H{"queued": true, "queue_length": n})
}

// Current handles GET /polls/current. Returns null data when idle.
func (h *Handler) Current(c *gin.Context) {
	st, err := h.engine.Current(c.Request.Context())
	if err != nil {
		h.logger.Error("load current poll failed", zap.Error(err))
		response.Internal(c, "failed to load poll")
		return
	}
	response.OK(c, st)
}
