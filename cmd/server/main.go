// Package main runs the overlay engine HTTP server with WebSocket push and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulse-overlay/backend/config"
	"github.com/pulse-overlay/backend/internal/history"
	"github.com/pulse-overlay/backend/internal/lock"
	"github.com/pulse-overlay/backend/internal/middleware"
	"github.com/pulse-overlay/backend/internal/overlay"
	"github.com/pulse-overlay/backend/internal/poll"
	"github.com/pulse-overlay/backend/internal/realtime"
	"github.com/pulse-overlay/backend/internal/scheduler"
	"github.com/pulse-overlay/backend/internal/store"
	"github.com/pulse-overlay/backend/pkg/database"
	"github.com/pulse-overlay/backend/pkg/redis"
	"github.com/pulse-overlay/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	kv := store.NewRedis(rdb.Client)
	lk := lock.New(kv, time.Duration(cfg.Engine.LockTTLSeconds)*time.Second)
	engine := poll.NewEngine(kv, lk, logger, poll.Options{
		WinnerDisplay:   time.Duration(cfg.Engine.WinnerDisplaySeconds) * time.Second,
		DefaultDuration: time.Duration(cfg.Engine.DefaultDurationSeconds) * time.Second,
	})

	relay := realtime.NewRedisRelay(rdb.Client, logger)
	hub := realtime.NewHub(logger, relay)
	publisher := overlay.NewPublisher(kv, hub, logger)
	hub.SetSnapshotSource(publisher.Current)
	if err := hub.Start(); err != nil {
		logger.Warn("snapshot relay unavailable, hub is process-local", zap.Error(err))
	}
	defer hub.Stop()

	engine.SetNotifier(publisher)
	// Chat relay stub: the engine only emits; an external relay posts to chat.
	engine.SetEventSink(poll.EventFunc(func(e poll.Event) {
		logger.Info("poll event",
			zap.String("type", e.Type),
			zap.String("question", e.Question),
			zap.String("winner", e.Winner))
	}))

	// Poll history archive (optional, like any reporting surface).
	var historyHandler *history.Handler
	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		historyRepo := history.NewRepository(pool)
		engine.SetArchiver(historyRepo)
		historyHandler = history.NewHandler(historyRepo)
	}

	sched := scheduler.New(
		engine,
		scheduler.NewPoolContentProvider(kv),
		scheduler.StoreLiveness(kv),
		time.Duration(cfg.Engine.TickIntervalSeconds)*time.Second,
		logger,
	)

	pollHandler := poll.NewHandler(engine, logger)
	overlayHandler := overlay.NewHandler(publisher)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health", "/overlay/snapshot"))

	router.GET("/health", func(c *gin.Context) {
		if err := rdb.Healthy(c.Request.Context()); err != nil {
			response.Internal(c, "store unreachable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	router.POST("/polls", pollHandler.Start)
	router.POST("/polls/vote", pollHandler.Vote)
	router.POST("/polls/queue", pollHandler.Enqueue)
	router.GET("/polls/current", pollHandler.Current)
	if historyHandler != nil {
		router.GET("/polls/history", historyHandler.ListRecent)
	}

	router.GET("/overlay/snapshot", overlayHandler.GetSnapshot)
	router.POST("/tick", sched.TickHandler())
	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	if cfg.Engine.EnableInProcessScheduler {
		go sched.Run(schedCtx)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	schedCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
