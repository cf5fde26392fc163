package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"github.com/jimmychuckball/pythonmap/config"
	_ "github.com/jimmychuckball/pythonmap/docs"
	"github.com/jimmychuckball/pythonmap/logging"
	"github.com/jimmychuckball/pythonmap/scanner"
)

const shutdownTimeout = 10 * time.Second

// RouterOptions selects the middleware installed by NewRouter.
type RouterOptions struct {
	APIKey string
	// Limiter backs both limits below; a zero limit disables that check.
	Limiter      *RateLimiter
	RequestLimit int64
	PortBudget   int64
}

// NewRouter builds the HTTP handler tree. Authentication is enabled only when
// an API key is set. Without a Limiter neither the request limit nor the
// port budget is enforced.
func NewRouter(server *Server, opts RouterOptions, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(logger), SecurityHeadersMiddleware())

	router.GET("/healthz", server.healthHandler)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	if opts.APIKey != "" {
		v1.Use(AuthMiddleware(opts.APIKey, logger))
	}
	if opts.Limiter != nil {
		if opts.RequestLimit > 0 {
			v1.Use(RateLimitMiddleware(opts.Limiter, opts.RequestLimit, logger))
		}
		server.LimitPorts(opts.Limiter, opts.PortBudget)
	}
	server.RegisterRoutes(v1)
	return router
}

// Run initializes dependencies and serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := logging.Configure(logging.Options{Level: cfg.Output.LogLevel, Format: cfg.Output.LogFormat})

	defaults := cfg.Policy()
	if err := defaults.Validate(); err != nil {
		return err
	}

	connector := &scanner.ConnectProbe{Network: cfg.Scan.Network}
	if err := connector.Validate(); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.API.RedisAddr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.API.RedisAddr, err)
	}
	store := NewRedisStore(redisClient)

	resolver := scanner.LoadResolver(cfg.Scan.Services, logger)
	coordinator := scanner.NewCoordinator(scanner.NewRetryingScanner(connector, logger), resolver, logger)
	workers := NewWorkers(store, coordinator, logger)

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(NewServer(store, defaults, logger), RouterOptions{
		APIKey:       cfg.API.APIKey,
		Limiter:      NewRateLimiter(redisClient, cfg.API.RateWindow.Duration),
		RequestLimit: cfg.API.RateLimit,
		PortBudget:   cfg.API.PortBudget,
	}, logger)
	if cfg.API.APIKey == "" {
		logger.Warn("no API key configured, scan endpoints are unauthenticated")
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting API server", "addr", cfg.API.Addr, "workers", cfg.API.Workers)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return workers.Run(ctx, cfg.API.Workers)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
