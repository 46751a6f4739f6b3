package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/common/otel"
	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/internal/dss"
	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/http/middleware"
	httprouter "dataspace.app/orchestrator/internal/http/router"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/model"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeDSS)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)
	slog.InfoContext(ctx, "dss starting", "env", cfg.Env, "step_duration", cfg.DSS.StepDuration, "auth", cfg.DSS.BackendAPIKey != "")

	m := metrics.New()

	engine := dss.NewEngine(
		dss.WithStepDuration(cfg.DSS.StepDuration),
		dss.WithLogger(slog.Default()),
		dss.WithNotifier(dss.NewWebhookSender(cfg.DSS.WebhookTimeout, slog.Default())),
		dss.WithProgressHook(func(jobID string, status model.JobStatus, progress int) {
			if status.IsTerminal() {
				m.RecordJob(string(status))
			}
		}),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/metrics"))
	router.Use(middleware.Metrics(m))

	httprouter.SetupDSSRoutes(router, handler.NewDSSJobHandler(engine, m), httprouter.DSSRouterConfig{
		APIKey:  cfg.DSS.BackendAPIKey,
		Metrics: m,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "job engine shutdown error", "error", err)
	}

	if telemetry != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFlush()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

const banner = `
 ___  ___ ___ 
|   \/ __/ __|
| |) \__ \__ \
|___/|___/___/
`
