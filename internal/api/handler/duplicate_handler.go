package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tejasbhor/Civiclens/internal/service"
)

// DuplicateDetector decides whether a submission duplicates an existing report.
type DuplicateDetector interface {
	Check(ctx context.Context, req service.DuplicateCheckRequest) service.Verdict
}

// DuplicateHandler handles submission-time duplicate checks.
type DuplicateHandler struct {
	checker DuplicateDetector
}

// NewDuplicateHandler creates a new duplicate handler.
func NewDuplicateHandler(checker DuplicateDetector) *DuplicateHandler {
	return &DuplicateHandler{checker: checker}
}

// Check handles POST /api/v1/duplicates/check.
// A detection failure still answers 200 with a degraded verdict.
func (h *DuplicateHandler) Check(c *gin.Context) {
	var req service.DuplicateCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: coordinates out of range",
		})
		return
	}

	c.JSON(http.StatusOK, h.checker.Check(c.Request.Context(), req))
}
