package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"dataspace.app/orchestrator/common/id"
	"dataspace.app/orchestrator/common/logger"
	"dataspace.app/orchestrator/common/otel"
	"dataspace.app/orchestrator/core/config"
	"dataspace.app/orchestrator/core/db"
	"dataspace.app/orchestrator/internal/connector"
	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/http/middleware"
	httprouter "dataspace.app/orchestrator/internal/http/router"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/pull"
	"dataspace.app/orchestrator/internal/service"
	"dataspace.app/orchestrator/internal/store"
	"dataspace.app/orchestrator/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "orchestrator starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.Ledger.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize request id generator", "error", err, "node_id", cfg.Ledger.NodeID)
		os.Exit(1)
	}

	m := metrics.New()

	var ledger store.RequestStore = store.NewMemoryRequestStore()
	if cfg.Ledger.Enabled() {
		database, err := db.New(ctx, cfg.Ledger.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		pgLedger, err := store.NewPostgresRequestStore(ctx, database)
		if err != nil {
			slog.ErrorContext(ctx, "failed to prepare request ledger", "error", err)
			os.Exit(1)
		}
		ledger = pgLedger
		slog.InfoContext(ctx, "database connected, using postgres request ledger")
	} else {
		slog.InfoContext(ctx, "using in-memory request ledger")
	}

	var pullHandler *handler.PullHandler
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected, pull backend enabled", "stream_prefix", cfg.Redis.StreamPrefix)

		publisher := pull.NewRedisPublisher(redisClient, cfg.Redis.StreamPrefix, cfg.Redis.StreamMaxLen, slog.Default())
		defer publisher.Close()

		pullHandler = handler.NewPullHandler(publisher, redisClient, handler.PullHandlerConfig{
			StreamPrefix: cfg.Redis.StreamPrefix,
		}, m)
	}

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	dispatcher := worker.NewDispatcher(cfg.Dispatcher, m, slog.Default())
	dispatcher.Start(dispatchCtx)

	connectorClient := connector.NewClient(cfg.Connector, nil, slog.Default())
	services := service.NewServices(
		cfg,
		ledger,
		connectorClient,
		service.NewPullReceiverFactory(cfg.Pull, slog.Default()),
		dispatcher,
		m,
		slog.Default(),
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, m, pullHandler)
	server := newServer(":"+cfg.Port, router)

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

	// In-flight requests see their context cancelled and are recorded as failed.
	stopDispatch()
	dispatcher.Stop()

	if telemetry != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFlush()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.ErrorContext(ctx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

// newServer builds the HTTP server. Handler contexts are cancelled when
// Shutdown starts so open pull streams end instead of holding shutdown.
func newServer(addr string, h http.Handler) *http.Server {
	baseCtx, cancelBase := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: the pull stream and /api/connector/initiate hold the response open.
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)
	return server
}

func setupRouter(cfg config.Config, services *service.Services, m *metrics.Metrics, pullHandler *handler.PullHandler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/metrics"))
	router.Use(middleware.Metrics(m))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		Metrics:    m,
		Pull:       pullHandler,
		PullAPIKey: cfg.Pull.APIKey,
	})

	return router
}

const banner = `
 ___  ___  ___ _  _ ___ ___ _____ ___    _ _____ ___  ___ 
/ _ \| _ \/ __| || | __/ __|_   _| _ \  /_\_   _/ _ \| _ \
| (_) |   / (__| __ | _|\__ \ | | |   / / _ \| || (_) |   /
\___/|_|_\\___|_||_|___|___/ |_| |_|_\/_/ \_\_| \___/|_|_\
`
