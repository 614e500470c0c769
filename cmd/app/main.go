package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	PrintVersion()

	cfg := loadConfig()
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	a, err := initComponents(cfg, logger)
	if err != nil {
		logger.Fatal("init_failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pollCtx, stopPoll := context.WithCancel(context.Background())
	pollDone := make(chan struct{})
	go func() {
		a.poller.Run(pollCtx)
		close(pollDone)
	}()

	resolveCtx, stopResolve := context.WithCancel(context.Background())
	resolveDone := make(chan struct{})
	go func() {
		a.resolver.Run(resolveCtx)
		close(resolveDone)
	}()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	startStatsLoop(ctx, a, logger)
	registerRoutes(a, cfg, logger)

	if err := startServer(ctx, cfg.Host, cfg.Port, logger); err != nil {
		logger.Error("Server down", zap.Error(err))
	}

	// Drain in dependency order: no new cycles, then no new lookups,
	// then close subscribers, then the store.
	stopPoll()
	<-pollDone
	stopResolve()
	<-resolveDone
	stopHub()
	<-hubDone

	if err := a.store.Close(); err != nil {
		logger.Warn("store_close_failed", zap.Error(err))
	}
	logger.Info("shutdown_complete")
}
