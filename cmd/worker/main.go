// Package main runs the asynq verification worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/app"
	"github.com/dharsanguruparan/ShieldVault/internal/config"
	"github.com/dharsanguruparan/ShieldVault/internal/logger"
	"github.com/dharsanguruparan/ShieldVault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	// The worker shares state with the API only through PostgreSQL, S3 and
	// Redis, so all three are required.
	if cfg.DatabaseURL == "" || cfg.S3Endpoint == "" || cfg.RedisAddr == "" {
		log.Fatal("worker needs SHIELDVAULT_DATABASE_URL, SHIELDVAULT_S3_ENDPOINT and SHIELDVAULT_REDIS_ADDR")
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	server := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerCount,
	})
	processor := worker.NewProcessor(a.Tracker, a.Verifier, log.Named("worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info("worker started", zap.Int("concurrency", cfg.WorkerCount))
	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
