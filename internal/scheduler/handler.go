package scheduler

import (
	"github.com/gin-gonic/gin"

	"github.com/pulse-overlay/backend/pkg/response"
)

// TickHandler exposes the scheduler as POST /tick so an external cron or
// serverless trigger can drive the engine instead of (or alongside) the
// in-process ticker. Ticks are safe to deliver redundantly.
func (s *Scheduler) TickHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.Tick(c.Request.Context())
		response.OK(c, gin.H{"ticked": true})
	}
}
