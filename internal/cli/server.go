package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ideatorio/internal/app"
	"ideatorio/internal/config"
	"ideatorio/internal/infra/generator"
	"ideatorio/internal/infra/memory"
	"ideatorio/internal/infra/postgres"
	redisinfra "ideatorio/internal/infra/redis"
	transport "ideatorio/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	finalPort := cfg.Server.Port
	if portFlag != "" {
		finalPort = portFlag
	}

	var recorder app.SessionRecorder = app.NopRecorder{}
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		recorder = postgres.NewSessionRecorder(pool)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	idleTimeout := config.TTLDuration(cfg.Session.IdleTimeout, 30*time.Minute)
	var store app.SessionRepository = memory.NewSessionStore()
	if redisClient != nil {
		reservation := config.TTLDuration(cfg.Redis.TTL, idleTimeout+10*time.Minute)
		store = redisinfra.NewSessionStore(redisClient, reservation, instanceID())
	}

	var gen app.ContentGenerator = generator.NewStatic()
	if cfg.Content.URL != "" {
		gen = generator.NewChatGenerator(cfg.Content.URL, cfg.Content.APIKey, cfg.Content.Model,
			config.TTLDuration(cfg.Content.Timeout, 30*time.Second), logger.Named("generator"))
	}
	contentTTL := config.TTLDuration(cfg.Content.TTL, 10*time.Minute)
	var cache app.ContentCache = memory.NewContentCache(contentTTL)
	if redisClient != nil {
		cache = redisinfra.NewContentCache(redisClient, contentTTL)
	}

	registry := app.NewRegistry(store, recorder, app.RegistryConfig{
		PINLength:   cfg.Session.PINLength,
		PINAttempts: cfg.Session.PINAttempts,
		IdleTimeout: idleTimeout,
		SendBuffer:  cfg.Room.SendBuffer,
	}, logger.Named("registry"))
	service := app.NewService(registry, logger.Named("service"))
	content := app.NewContentService(gen, cache, logger.Named("content"))

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go registry.RunSweeper(sweepCtx, config.TTLDuration(cfg.Session.SweepInterval, time.Minute))

	router := transport.NewRouter(
		transport.NewRESTHandler(service, content, logger.Named("rest")),
		transport.NewWSHandler(service, logger.Named("ws")),
		cfg.Server.CORSOrigins,
		logger.Named("http"),
	)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.TTLDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.TTLDuration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	go func() {
		logger.Info("starting ideatorio", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopSweep()
	registry.Shutdown(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

// instanceID names this process in the shared PIN namespace.
func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}
