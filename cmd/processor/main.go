package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/number-market/internal/app"
	"github.com/nimasrn/number-market/internal/config"
	"github.com/nimasrn/number-market/internal/processor"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	defer logger.Default().Sync() //nolint
	logger.SetDebug(cfg.Debug)
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.MetricsListenAddr, "/metrics")

	idempotency := processor.NewIdempotencyService(a.Redis, processor.DefaultIdempotencyConfig())

	service := processor.NewProcessorService(a.Redis, processor.ServiceConfig{
		ConsumerGroup: cfg.AppName,
		ConsumerName:  cfg.QueueConsumerName + "-" + hostname,
		MaxRetries:    cfg.QueueMaxRetries,
		PollInterval:  cfg.QueuePollInterval,
	})
	service.Bind(cfg.QueueCallbacks, processor.NewCallbackProcessor(a.Orders, idempotency))
	service.Bind(cfg.QueueCodes, processor.NewCodeProcessor(a.Pool))
	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	sweeper := processor.NewSweeper(a.Orders, cfg.SweepInterval)
	sweeper.Start(ctx)

	<-ctx.Done()
	sweeper.Stop()
	service.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, "--env=") {
			path := strings.TrimPrefix(v, "--env=")
			if _, err := os.Stat(path); err != nil {
				logger.Error("failed to open the passed env file", "error", err)
				return ""
			}
			return path
		}
	}
	return ""
}
