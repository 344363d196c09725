package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/nimasrn/number-market/internal/app"
	"github.com/nimasrn/number-market/internal/bot"
	"github.com/nimasrn/number-market/internal/config"
	"github.com/nimasrn/number-market/internal/queue"
	xhttp "github.com/nimasrn/number-market/pkg/http"
	"github.com/nimasrn/number-market/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const webhookPath = "/bot/updates"

func main() {
	cfg, err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	defer logger.Default().Sync() //nolint
	logger.SetDebug(cfg.Debug)
	logger.Info("starting bot", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		logger.Error("failed to authorize bot", "error", err)
		os.Exit(1)
	}
	api.Debug = cfg.Debug && cfg.IsDev()
	logger.Info("authorized", "username", api.Self.UserName)

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	b := bot.New(api, a.Users, a.Wallet, a.Orders, bot.Config{
		AutoDelete:      cfg.AutoDeleteMessages,
		MessageLifetime: cfg.MessageLifetime(),
	})
	go b.Run(ctx)

	if cfg.EventSink == "nats" {
		nc, err := a.Nats()
		if err != nil {
			logger.Error("failed to connect nats", "error", err)
			return
		}
		sub, err := queue.SubscribeDeliveries(nc, queue.DeliverySubject, b.Deliver)
		if err != nil {
			logger.Error("failed to subscribe deliveries", "error", err)
			return
		}
		defer func() { _ = sub.Unsubscribe() }()
	} else if err := a.Deliveries.Consume(b.DeliveryHandler()); err != nil {
		logger.Error("failed to consume deliveries", "error", err)
		return
	}

	if !cfg.HostedPlatform {
		b.Poll(ctx, api)
		return
	}

	base := strings.TrimRight(cfg.CallbackURL, "/")
	if err := bot.RegisterWebhook(api, base+webhookPath); err != nil {
		logger.Error("failed to set webhook", "error", err)
		return
	}

	s := xhttp.NewServer(xhttp.DefaultServerOption())
	s.Use(xhttp.RecoverMiddleware)
	s.Router.POST(webhookPath, b.WebhookHandler())
	s.Router.GET("/api/v1/health", func(ctx *xhttp.RequestCtx) { ctx.SetStatusCode(xhttp.StatusOK) })

	if cfg.KeepAliveEnabled {
		go app.KeepAlive(ctx, nil, base+"/api/v1/health", cfg.KeepAliveInterval())
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
