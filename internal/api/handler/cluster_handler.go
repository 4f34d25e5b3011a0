package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tejasbhor/Civiclens/internal/domain"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"github.com/tejasbhor/Civiclens/internal/service"
)

// ClusterReader is the reviewer read path.
type ClusterReader interface {
	List(ctx context.Context, filter repository.ClusterFilter) ([]domain.DuplicateCluster, error)
	Get(ctx context.Context, id uint) (*service.ClusterDetail, error)
}

// FeedbackRecorder stores reviewer feedback.
type FeedbackRecorder interface {
	Record(ctx context.Context, req service.FeedbackRequest) (*domain.ClusterFeedback, error)
}

// ClusterHandler handles cluster review endpoints.
type ClusterHandler struct {
	review   ClusterReader
	feedback FeedbackRecorder
}

// NewClusterHandler creates a new cluster handler.
// Parameters:
//   - review: cluster read service.
//   - feedback: feedback ledger.
//
// Returns:
//   - *ClusterHandler: initialized handler.
func NewClusterHandler(review ClusterReader, feedback FeedbackRecorder) *ClusterHandler {
	return &ClusterHandler{review: review, feedback: feedback}
}

// ListClustersResponse represents a page of clusters.
type ListClustersResponse struct {
	Results []domain.DuplicateCluster `json:"results"`
	Count   int                       `json:"count"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// ListClusters handles GET /api/v1/clusters.
func (h *ClusterHandler) ListClusters(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := repository.ClusterFilter{
		Status:   domain.ClusterStatus(c.Query("status")),
		Category: c.Query("category"),
		Limit:    limit,
		Offset:   offset,
	}

	clusters, err := h.review.List(c.Request.Context(), filter)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list clusters: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list clusters",
		})
		return
	}

	c.JSON(http.StatusOK, ListClustersResponse{
		Results: clusters,
		Count:   len(clusters),
		Limit:   limit,
		Offset:  offset,
	})
}

// GetCluster handles GET /api/v1/clusters/:id.
func (h *ClusterHandler) GetCluster(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}

	detail, err := h.review.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrClusterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Cluster not found"})
			return
		}
		logger.CtxError(c.Request.Context(), "Failed to get cluster: cluster_id=%d, error=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get cluster"})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// RecordFeedback handles POST /api/v1/clusters/:id/feedback.
func (h *ClusterHandler) RecordFeedback(c *gin.Context) {
	id, ok := clusterID(c)
	if !ok {
		return
	}

	var req service.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	req.ClusterID = id

	row, err := h.feedback.Record(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, row)
	case errors.Is(err, service.ErrInvalidFeedbackType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrClusterNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cluster not found"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "User not found"})
	default:
		logger.CtxError(c.Request.Context(), "Failed to record feedback: cluster_id=%d, error=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record feedback"})
	}
}

func clusterID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cluster ID"})
		return 0, false
	}
	return uint(id), true
}
