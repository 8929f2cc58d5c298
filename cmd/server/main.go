package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projecttracker/internal/events"
	"projecttracker/internal/handler"
	"projecttracker/internal/httpserver"
	"projecttracker/internal/lock"
	"projecttracker/internal/service/project"
	"projecttracker/internal/store"
	"projecttracker/pkg/config"
	"projecttracker/pkg/db"
	"projecttracker/pkg/logger"
	redisclient "projecttracker/pkg/redis"
)

func main() {
	cfg, err := config.Load(config.GetConfigDir(), config.GetConfigEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zlog.Sync()

	gin.SetMode(gin.ReleaseMode)

	zlog.Info("Starting projecttracker...",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("port", cfg.Server.Port),
	)

	ctx := context.Background()
	readiness := map[string]httpserver.ReadinessCheck{}

	// Store
	var st store.Store
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		zlog.Info("Initializing database connection...")
		pool, err := db.NewConnection(ctx, cfg.DB, zlog)
		if err != nil {
			zlog.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool, zlog)
	default:
		st = store.NewCSVStore(cfg.Store.Path, zlog)
	}
	if err := st.Init(ctx); err != nil {
		zlog.Fatal("Failed to init project store", zap.Error(err))
	}
	readiness["store"] = st.Ping

	// Write lock
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redisclient.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			zlog.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockKey, cfg.Redis.LockTTL, zlog)
		readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		zlog.Info("Using Redis write lock",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("key", cfg.Redis.LockKey),
		)
	}

	// Events
	var publisher project.EventPublisher = events.NopPublisher{}
	if cfg.MQ.URL != "" {
		p, err := events.NewPublisher(cfg.MQ.URL, zlog)
		if err != nil {
			zlog.Fatal("Failed to init event publisher", zap.Error(err))
		}
		defer p.Close()
		publisher = p
		readiness["mq"] = func(context.Context) error {
			if !p.IsConnected() {
				return errors.New("publisher connection closed")
			}
			return nil
		}
		zlog.Info("Publishing project events", zap.String("exchange", events.ExchangeName))
	}

	svc := project.NewService(st, locker, publisher, zlog)
	projectHandler := handler.NewProjectHandler(svc, zlog)
	router := httpserver.NewRouter(projectHandler, zlog, httpserver.Options{
		AllowOrigins: cfg.CORS.AllowOrigins,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("Shutting down projecttracker gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		zlog.Info("HTTP server stopped")
	}

	zlog.Info("projecttracker shutdown complete")
}
