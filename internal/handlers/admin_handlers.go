package handlers

import (
	"net/http"

	"intent-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// AdminHandlers bundles the operator-only endpoints
type AdminHandlers struct {
	sweeper *services.DeadlineSweeperService
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(sweeper *services.DeadlineSweeperService) *AdminHandlers {
	return &AdminHandlers{sweeper: sweeper}
}

// ForceSweepHandler runs the deadline sweep pass immediately instead of
// waiting for the next ticker fire
// POST /admin/sweep
func (h *AdminHandlers) ForceSweepHandler(c *gin.Context) {
	expired := h.sweeper.Sweep()

	summaries := make([]gin.H, 0, len(expired))
	for _, intent := range expired {
		summaries = append(summaries, gin.H{
			"intent_id": intent.IntentID,
			"status":    intent.Status,
			"deadline":  intent.Deadline,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"expired_count": len(expired),
		"expired":       summaries,
	})
}
