package api

import (
	"github.com/gin-gonic/gin"
	"github.com/tejasbhor/Civiclens/internal/api/handler"
	"github.com/tejasbhor/Civiclens/internal/api/middleware"
	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/logger"
)

// Handlers groups the HTTP handlers mounted by SetupRouter.
type Handlers struct {
	Health     *handler.HealthHandler
	Duplicates *handler.DuplicateHandler
	Clusters   *handler.ClusterHandler
	Admin      *handler.AdminHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h Handlers, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check
	r.GET("/health", h.Health.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Submission-time check
		v1.POST("/duplicates/check", h.Duplicates.Check)

		// Clustering runs
		v1.POST("/clusters/run", h.Admin.TriggerRun)
		v1.GET("/clusters/run/status", h.Admin.GetRunStatus)
		v1.GET("/clusters/runs/:run_id", h.Admin.GetRun)

		// Review
		v1.GET("/clusters", h.Clusters.ListClusters)
		v1.GET("/clusters/:id", h.Clusters.GetCluster)
		v1.POST("/clusters/:id/feedback", h.Clusters.RecordFeedback)
	}

	return r
}
