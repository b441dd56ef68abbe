// Package main runs the standalone scheduler tick process. It shares nothing
// with the server but the store, so it can run beside any number of server
// processes; the resolution lock keeps them from double-resolving.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulse-overlay/backend/config"
	"github.com/pulse-overlay/backend/internal/lock"
	"github.com/pulse-overlay/backend/internal/overlay"
	"github.com/pulse-overlay/backend/internal/poll"
	"github.com/pulse-overlay/backend/internal/realtime"
	"github.com/pulse-overlay/backend/internal/scheduler"
	"github.com/pulse-overlay/backend/internal/store"
	"github.com/pulse-overlay/backend/pkg/redis"
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

	// Mutations made by this process still reach displays: snapshots go out
	// through the relay and every server process's hub broadcasts them.
	relay := realtime.NewRedisRelay(rdb.Client, logger)
	hub := realtime.NewHub(logger, relay)
	publisher := overlay.NewPublisher(kv, hub, logger)
	engine.SetNotifier(publisher)

	sched := scheduler.New(
		engine,
		scheduler.NewPoolContentProvider(kv),
		scheduler.StoreLiveness(kv),
		time.Duration(cfg.Engine.TickIntervalSeconds)*time.Second,
		logger,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sched.Run(runCtx)
	logger.Info("ticker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("ticker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
