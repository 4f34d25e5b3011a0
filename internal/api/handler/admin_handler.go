package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/service"
)

// ClusterRunner executes clustering runs.
type ClusterRunner interface {
	Run(ctx context.Context, req service.ClusterRequest) (*service.RunResult, error)
}

// RunLoader reads archived runs.
type RunLoader interface {
	Load(ctx context.Context, runID string) (*service.RunResult, error)
}

// AdminHandler handles clustering run operations.
type AdminHandler struct {
	engine   ClusterRunner
	archiver RunLoader
	logger   *logger.Logger

	// Run state for this process
	mu            sync.RWMutex
	running       int
	lastRun       *service.RunResult
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - engine: clustering engine.
//   - archiver: archived run reader, nil when archiving is disabled.
//   - log: logger instance.
//
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(engine ClusterRunner, archiver RunLoader, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		engine:   engine,
		archiver: archiver,
		logger:   log,
	}
}

// RunResponse represents the clustering run API response.
type RunResponse struct {
	Message  string                   `json:"message"`
	Clusters []service.ClusterSummary `json:"clusters"`
	Run      *service.RunResult       `json:"run"`
}

// RunStatusResponse represents the clustering run status.
type RunStatusResponse struct {
	IsRunning     bool               `json:"is_running"`
	LastRunTime   string             `json:"last_run_time,omitempty"`
	LastRunStatus string             `json:"last_run_status,omitempty"`
	LastRun       *service.RunResult `json:"last_run,omitempty"`
}

// TriggerRun handles POST /api/v1/clusters/run.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) TriggerRun(c *gin.Context) {
	ctx := c.Request.Context()

	var req service.ClusterRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.CtxWarn(ctx, "Invalid cluster run request: client_ip=%s, error=%v", c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}
	if req.TimeWindowDays < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "time_window_days cannot be negative"})
		return
	}

	logger.CtxInfo(ctx, "Received cluster run request: category=%s, window=%d, force=%v, client_ip=%s",
		req.Category, req.TimeWindowDays, req.ForceRecluster, c.ClientIP())

	h.mu.Lock()
	h.running++
	h.mu.Unlock()

	// Detach from the HTTP request so a client disconnect does not abort the run
	runCtx := context.WithoutCancel(ctx)
	result, err := h.engine.Run(runCtx, req)

	h.mu.Lock()
	h.running--
	if !errors.Is(err, service.ErrRunInProgress) {
		h.lastRun = result
		h.lastRunTime = time.Now()
		if err != nil {
			h.lastRunStatus = "failed: " + err.Error()
		} else {
			h.lastRunStatus = result.Status
		}
	}
	h.mu.Unlock()

	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			logger.CtxWarn(ctx, "Cluster run rejected: already running, client_ip=%s", c.ClientIP())
			c.JSON(http.StatusConflict, gin.H{"error": "A clustering run is already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, RunResponse{
			Message:  "Clustering run failed: " + err.Error(),
			Clusters: []service.ClusterSummary{},
			Run:      result,
		})
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: result.DurationMs,
		logger.FieldCount:      len(result.Clusters),
	}).Info(ctx, "Cluster run completed: run_id=%s, created=%d, updated=%d, skipped=%d",
		result.RunID, result.ClustersCreated, result.ClustersUpdated, result.ClustersSkipped)

	c.JSON(http.StatusOK, RunResponse{
		Message:  "Clustering run completed",
		Clusters: result.Clusters,
		Run:      result,
	})
}

// GetRunStatus handles GET /api/v1/clusters/run/status.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AdminHandler) GetRunStatus(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	logger.CtxDebug(c.Request.Context(), "Cluster run status requested: client_ip=%s, is_running=%v",
		c.ClientIP(), h.running > 0)

	resp := RunStatusResponse{
		IsRunning:     h.running > 0,
		LastRunStatus: h.lastRunStatus,
		LastRun:       h.lastRun,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}

// GetRun handles GET /api/v1/clusters/runs/:run_id, reading the archived summary.
func (h *AdminHandler) GetRun(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrArchiveDisabled.Error()})
		return
	}

	result, err := h.archiver.Load(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
			return
		}
		logger.CtxError(c.Request.Context(), "Failed to load archived run: run_id=%s, error=%v", c.Param("run_id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load run"})
		return
	}

	c.JSON(http.StatusOK, result)
}
