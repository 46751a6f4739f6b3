package router

import (
	"github.com/gin-gonic/gin"

	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/http/middleware"
	"dataspace.app/orchestrator/internal/metrics"
)

type DSSRouterConfig struct {
	APIKey  string
	Metrics *metrics.Metrics
}

// SetupDSSRoutes mounts the DSS job API. Job routes require X-API-Key when a key is configured.
func SetupDSSRoutes(router *gin.Engine, jobs *handler.DSSJobHandler, cfg DSSRouterConfig) {
	router.GET("/health", handler.Health("DSS Mock API"))
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	f1 := router.Group("/f1/jobs", middleware.RequireAPIKey(cfg.APIKey))
	{
		f1.POST("", jobs.Create)
		f1.GET("", jobs.List)
		f1.GET("/:job_id", jobs.Get)
		f1.DELETE("/:job_id", jobs.Cancel)
	}
}
