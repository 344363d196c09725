package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/number-market/internal/app"
	"github.com/nimasrn/number-market/internal/config"
	"github.com/nimasrn/number-market/internal/handlers"
	"github.com/nimasrn/number-market/internal/queue"
	xhttp "github.com/nimasrn/number-market/pkg/http"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

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

	s := xhttp.NewServer(xhttp.DefaultServerOption())
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)

	g := s.Router.Group("/api/v1")
	handlers.RegisterNumberRoutes(g, handlers.NewNumberHandler(a.Catalog))
	handlers.RegisterPaymentRoutes(g, handlers.NewPaymentHandler(queue.NewCallbackSink(a.Callbacks), cfg.ProviderCallbackSecret))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.Pinger{
		"store": a.Store,
		"redis": a.Redis,
	}))

	if cfg.KeepAliveEnabled {
		url := strings.TrimRight(cfg.CallbackURL, "/") + "/api/v1/health"
		go app.KeepAlive(ctx, nil, url, cfg.KeepAliveInterval())
	}

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	s.Shutdown()
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
