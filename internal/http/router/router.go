package router

import (
	"github.com/gin-gonic/gin"

	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/http/handler/webhook"
	"dataspace.app/orchestrator/internal/http/middleware"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/service"
)

type RouterConfig struct {
	Metrics *metrics.Metrics
	// Pull is nil when Redis is not configured; the pull backend routes are then not mounted.
	Pull       *handler.PullHandler
	PullAPIKey string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", handler.Health("Dashboard Backend API (DSS F1 Energy Optimization)"))
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	toolRequests := services.ToolRequests()

	ToolRequestRouter(router.Group("/f1"), handler.NewToolRequestHandler(toolRequests))
	WebhookRouter(router.Group("/webhooks"), webhook.NewDSSCallbackHandler(toolRequests))

	api := router.Group("/api")
	{
		ConnectorRouter(api.Group("/connector"), handler.NewConnectorHandler(toolRequests, services.Config().Connector))
	}

	if cfg.Pull != nil {
		PullRouter(router.Group("/pull", middleware.RequireBearer(cfg.PullAPIKey)), cfg.Pull)
	}
}

func ToolRequestRouter(rg *gin.RouterGroup, h *handler.ToolRequestHandler) {
	rg.POST("/request-tool", h.Submit)
	rg.GET("/requests", h.List)
	rg.GET("/requests/:request_id", h.Get)
}

func WebhookRouter(rg *gin.RouterGroup, h *webhook.DSSCallbackHandler) {
	rg.POST("/dss-callback/:user_id", h.HandleCallback)
}

func ConnectorRouter(rg *gin.RouterGroup, h *handler.ConnectorHandler) {
	rg.POST("/initiate", h.Initiate)
}

func PullRouter(rg *gin.RouterGroup, h *handler.PullHandler) {
	rg.POST("", h.Ingest)
	rg.GET("/stream/provider/:host", h.Stream)
}
