package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Inflectra/spira-gitlab-datasync/common/id"
	"github.com/Inflectra/spira-gitlab-datasync/common/logger"
	"github.com/Inflectra/spira-gitlab-datasync/common/otel"
	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/core/db"
	"github.com/Inflectra/spira-gitlab-datasync/internal/engine"
	"github.com/Inflectra/spira-gitlab-datasync/internal/gitlab"
	"github.com/Inflectra/spira-gitlab-datasync/internal/httpapi"
	"github.com/Inflectra/spira-gitlab-datasync/internal/httpapi/middleware"
	"github.com/Inflectra/spira-gitlab-datasync/internal/queue"
	"github.com/Inflectra/spira-gitlab-datasync/internal/scheduler"
	"github.com/Inflectra/spira-gitlab-datasync/internal/spira"
	"github.com/Inflectra/spira-gitlab-datasync/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "datasync starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"pairings", len(cfg.Sync.Pairings),
		"interval", cfg.Sync.Interval)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Queue.Stream)

	producer := queue.NewRedisProducer(redisClient, cfg.Queue.Stream)
	defer producer.Close()

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:   cfg.Queue.Stream,
		Group:    cfg.Queue.Group,
		Consumer: cfg.Queue.Consumer,
		Block:    5 * time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create trigger consumer", "error", err)
		os.Exit(1)
	}

	stores := store.NewStores(database)

	spiraClient := spira.NewClient(cfg.Spira, cfg.Sync.PageSize)
	eng := engine.New(cfg, spiraClient, func(project string) (engine.GitLabClient, error) {
		return gitlab.NewClient(cfg.GitLab, project)
	})

	sched := scheduler.New(eng, stores.Runs(), producer, consumer, cfg.Sync.Interval)

	schedErrCh := make(chan error, 1)
	go func() {
		schedErrCh <- sched.Run(ctx)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, stores, producer)
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

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// Stop waits for an in-flight sync run to finish.
	sched.Stop()
	select {
	case err := <-schedErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(shutdownCtx, "scheduler error during shutdown", "error", err)
		}
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "shutdown timeout exceeded")
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, stores *store.Stores, producer queue.Producer) *gin.Engine {
	router := gin.New()

	// The OTel span opens first so Recovery and Logger both see trace context.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httpapi.SetupRoutes(router, stores.Runs(), producer, httpapi.RouterConfig{
		AdminAPIKey: cfg.AdminAPIKey,
	})

	return router
}

const banner = `
██████╗  █████╗ ████████╗ █████╗     ███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔══██╗██╔══██╗╚══██╔══╝██╔══██╗    ██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║  ██║███████║   ██║   ███████║    ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║  ██║██╔══██║   ██║   ██╔══██║    ╚════██║  ╚██╔╝  ██║╚██╗██║██║
██████╔╝██║  ██║   ██║   ██║  ██║    ███████║   ██║   ██║ ╚████║╚██████╗
╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝    ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`
