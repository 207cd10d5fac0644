package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maine/x_relay_bot/internal/app"
	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/logger"
	"github.com/maine/x_relay_bot/internal/post"
)

func main() {
	// Загружаем переменные окружения (токены)
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		log.Fatalf("load env config: %v", err)
	}

	// Загружаем конфигурацию из YAML
	rootCfg, err := config.LoadRoot(envCfg.ConfigPath)
	if err != nil {
		log.Fatalf("load config %s: %v", envCfg.ConfigPath, err)
	}
	if envCfg.LogLevel != "" {
		rootCfg.Log.Level = envCfg.LogLevel
	}

	lg, err := logger.New(logger.Config{Level: rootCfg.Log.Level})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, envCfg, rootCfg, lg); err != nil {
		lg.Error("relay run failed", logger.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, envCfg *config.EnvConfig, rootCfg config.Root, lg logger.Logger) error {
	rt, err := app.Assemble(ctx, envCfg, rootCfg, lg)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, runErr := rt.Pipeline.Run(ctx)

	rt.Metrics.RunFinished(report.FinishedAt)
	pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Metrics.Push(pushCtx); err != nil {
		lg.Warn("push metrics", logger.Error(err))
	}

	failed := 0
	for _, s := range report.Sources {
		if s.Err != nil {
			failed++
		}
	}
	lg.Info("relay run summary",
		logger.String("run_id", report.RunID),
		logger.Int("sources", len(report.Sources)),
		logger.Int("failed_sources", failed),
		logger.Int("published", report.Published()),
		logger.Int("duplicates", report.Count(post.RejectedDuplicate)),
		logger.Int64("purged", report.Purged),
	)
	return runErr
}
