package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var (
	ErrMissingBotToken    = errors.New("BOT_TOKEN is required")
	ErrMissingDatabase    = errors.New("DATABASE_URL is required")
	ErrInvalidAdminIDs    = errors.New("ADMIN_IDS must be a comma separated list of integers")
	ErrInvalidMaxBots     = errors.New("MAX_BOTS_PER_USER must be positive")
	ErrInvalidLifetime    = errors.New("MESSAGE_LIFETIME_SECONDS must be positive when auto delete is enabled")
	ErrInvalidKeepAlive   = errors.New("KEEP_ALIVE_INTERVAL_SECONDS must be positive when keep alive is enabled")
	ErrMissingCallbackURL = errors.New("CALLBACK_URL is required when keep alive is enabled")
	ErrMissingSecret      = errors.New("PROVIDER_CALLBACK_SECRET is required when PROVIDER_URL is set")
)

// Config holds every process setting. It is built once by Load and passed
// by pointer to the components that need it; nothing mutates it afterwards.
type Config struct {
	AppEnv  string `env:"APP_ENV"`
	AppName string `env:"APP_NAME"`
	Debug   bool   `env:"DEBUG"`

	BotToken               string `env:"BOT_TOKEN"`
	AdminIDsRaw            string `env:"ADMIN_IDS"`
	MaxBotsPerUser         int    `env:"MAX_BOTS_PER_USER"`
	AutoDeleteMessages     bool   `env:"AUTO_DELETE_MESSAGES"`
	MessageLifetimeSeconds int    `env:"MESSAGE_LIFETIME_SECONDS"`
	KeepAliveEnabled       bool   `env:"KEEP_ALIVE_ENABLED"`
	KeepAliveIntervalSec   int    `env:"KEEP_ALIVE_INTERVAL_SECONDS"`
	HostedPlatform         bool   `env:"HOSTED_PLATFORM"`
	CallbackURL            string `env:"CALLBACK_URL"`

	DatabaseURL     string `env:"DATABASE_URL"`
	DatabaseReadURL string `env:"DATABASE_READ_URL"`
	MigrationsDir   string `env:"MIGRATIONS_DIR"`

	RedisURL                string `env:"REDIS_URL"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	HttpListenAddr    string `env:"HTTP_LISTEN_ADDR"`
	MetricsListenAddr string `env:"METRICS_LISTEN_ADDR"`
	PromNamespace     string `env:"PROM_NAMESPACE"`

	QueueCallbacks    string        `env:"QUEUE_CALLBACKS"`
	QueueCodes        string        `env:"QUEUE_CODES"`
	QueueDeliveries   string        `env:"QUEUE_DELIVERIES"`
	QueueConsumerName string        `env:"QUEUE_CONSUMER_NAME"`
	QueuePollInterval time.Duration `env:"QUEUE_POLL_INTERVAL"`
	QueueMaxRetries   int           `env:"QUEUE_MAX_RETRIES"`

	EventSink string `env:"EVENT_SINK"`
	NatsURL   string `env:"NATS_URL"`

	ProviderURL            string        `env:"PROVIDER_URL"`
	ProviderTimeout        time.Duration `env:"PROVIDER_TIMEOUT"`
	ProviderRateLimit      float64       `env:"PROVIDER_RATE_LIMIT"`
	ProviderCallbackSecret string        `env:"PROVIDER_CALLBACK_SECRET"`

	ReservationTTL time.Duration `env:"RESERVATION_TTL"`
	CodeTTL        time.Duration `env:"CODE_TTL"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL"`

	adminIDs []int64
}

// Load reads the optional env file at path and the process environment.
// It fails closed: a missing bot token is an error, never a fallback.
func Load(path string) (*Config, error) {
	logger.Info("loading configs..", "path", path)
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := defaults()
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to Configuration object")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func defaults() *Config {
	return &Config{
		AppEnv:                 "dev",
		AppName:                "number_market",
		MaxBotsPerUser:         1,
		MessageLifetimeSeconds: 60,
		KeepAliveIntervalSec:   300,
		HttpListenAddr:         ":8080",
		MetricsListenAddr:      ":9100",
		PromNamespace:          "number_market",
		QueueCallbacks:         "payments:callbacks",
		QueueCodes:             "accounts:codes",
		QueueDeliveries:        "orders:deliveries",
		QueueConsumerName:      "worker",
		QueuePollInterval:      time.Second,
		QueueMaxRetries:        3,
		EventSink:              "redis",
		ProviderTimeout:        30 * time.Second,
		ProviderRateLimit:      10,
		ReservationTTL:         15 * time.Minute,
		CodeTTL:                5 * time.Minute,
		SweepInterval:          time.Minute,
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return ErrMissingBotToken
	}
	if c.DatabaseURL == "" {
		return ErrMissingDatabase
	}
	ids, err := parseIDs(c.AdminIDsRaw)
	if err != nil {
		return errors.Wrap(ErrInvalidAdminIDs, err.Error())
	}
	c.adminIDs = ids
	if c.MaxBotsPerUser <= 0 {
		return ErrInvalidMaxBots
	}
	if c.AutoDeleteMessages && c.MessageLifetimeSeconds <= 0 {
		return ErrInvalidLifetime
	}
	if c.ProviderURL != "" && c.ProviderCallbackSecret == "" {
		return ErrMissingSecret
	}
	if c.KeepAliveEnabled {
		if c.KeepAliveIntervalSec <= 0 {
			return ErrInvalidKeepAlive
		}
		if c.CallbackURL == "" {
			return ErrMissingCallbackURL
		}
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AdminIDs returns a copy of the configured administrator ids.
func (c *Config) AdminIDs() []int64 {
	out := make([]int64, len(c.adminIDs))
	copy(out, c.adminIDs)
	return out
}

func (c *Config) MessageLifetime() time.Duration {
	return time.Duration(c.MessageLifetimeSeconds) * time.Second
}

func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalSec) * time.Second
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}
