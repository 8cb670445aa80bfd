package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "BillPay"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultCurrency        = "NGN"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultDispatchTimeout = 45 * time.Second
	defaultRequeryTimeout  = 10 * time.Second
	defaultCatalogCacheTTL = 5 * time.Minute
	defaultPurchaseLimit   = 10
	defaultSweepInterval   = time.Minute
	defaultSweepMaxAge     = 5 * time.Minute
	defaultSweepAttempts   = 12
	defaultSweepWorkers    = 4
	defaultSweepBatch      = 100
	defaultKafkaTopic      = "settlement-events"
	defaultAMQPExchange    = "settlement_events"
	defaultMongoDatabase   = "billpay"
	defaultVTPassBaseURL   = "https://sandbox.vtpass.com"
	defaultPaystackBaseURL = "https://api.paystack.co"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	Currency       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	DispatchTimeout      time.Duration
	StatusRequeryTimeout time.Duration
	CatalogCacheTTL      time.Duration
	PurchaseRateLimit    int

	Sweep SweepConfig

	FulfillmentProvider string
	CollectionProvider  string
	TopUpCallbackURL    string
	VTPass              VTPassConfig
	Paystack            PaystackConfig

	EventSinks    []string
	KafkaBrokers  []string
	KafkaTopic    string
	AMQPURL       string
	AMQPExchange  string
	MongoURI      string
	MongoDatabase string
}

// SweepConfig controls the background pending transaction sweeper.
type SweepConfig struct {
	Enabled     bool
	Interval    time.Duration
	MaxAge      time.Duration
	MaxAttempts int
	Concurrency int
	BatchSize   int
}

// VTPassConfig holds bill-payment aggregator credentials.
type VTPassConfig struct {
	BaseURL  string
	Username string
	Password string
}

// PaystackConfig holds payment collection credentials.
type PaystackConfig struct {
	BaseURL   string
	SecretKey string
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory (or ENV_FILE) is read first
// when present; real environment variables win.
func Load() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		Currency:            strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
		FulfillmentProvider: strings.ToLower(getEnv("FULFILLMENT_PROVIDER", "simulated")),
		CollectionProvider:  strings.ToLower(getEnv("COLLECTION_PROVIDER", "simulated")),
		TopUpCallbackURL:    os.Getenv("TOPUP_CALLBACK_URL"),
		VTPass: VTPassConfig{
			BaseURL:  getEnv("VTPASS_BASE_URL", defaultVTPassBaseURL),
			Username: os.Getenv("VTPASS_USERNAME"),
			Password: os.Getenv("VTPASS_PASSWORD"),
		},
		Paystack: PaystackConfig{
			BaseURL:   getEnv("PAYSTACK_BASE_URL", defaultPaystackBaseURL),
			SecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
		},
		EventSinks:    splitList(strings.ToLower(getEnv("EVENT_SINKS", "log"))),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", defaultAMQPExchange),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getEnv("MONGO_DATABASE", defaultMongoDatabase),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.DispatchTimeout, err = getDuration("DISPATCH_TIMEOUT", defaultDispatchTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StatusRequeryTimeout, err = getDuration("STATUS_REQUERY_TIMEOUT", defaultRequeryTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CatalogCacheTTL, err = getDuration("CATALOG_CACHE_TTL", defaultCatalogCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.PurchaseRateLimit, err = getInt("PURCHASE_RATE_LIMIT", defaultPurchaseLimit); err != nil {
		return Config{}, err
	}

	sweep := SweepConfig{}
	if sweep.Enabled, err = getBool("SWEEP_ENABLED", true); err != nil {
		return Config{}, err
	}
	if sweep.Interval, err = getDuration("SWEEP_INTERVAL", defaultSweepInterval); err != nil {
		return Config{}, err
	}
	if sweep.MaxAge, err = getDuration("SWEEP_MAX_AGE", defaultSweepMaxAge); err != nil {
		return Config{}, err
	}
	if sweep.MaxAttempts, err = getInt("SWEEP_MAX_ATTEMPTS", defaultSweepAttempts); err != nil {
		return Config{}, err
	}
	if sweep.Concurrency, err = getInt("SWEEP_CONCURRENCY", defaultSweepWorkers); err != nil {
		return Config{}, err
	}
	if sweep.BatchSize, err = getInt("SWEEP_BATCH", defaultSweepBatch); err != nil {
		return Config{}, err
	}
	cfg.Sweep = sweep

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}
	if cfg.FulfillmentProvider == "vtpass" && (cfg.VTPass.Username == "" || cfg.VTPass.Password == "") {
		return Config{}, fmt.Errorf("VTPASS_USERNAME and VTPASS_PASSWORD must be set for the vtpass provider")
	}
	if cfg.CollectionProvider == "paystack" && cfg.Paystack.SecretKey == "" {
		return Config{}, fmt.Errorf("PAYSTACK_SECRET_KEY must be set for the paystack provider")
	}
	for _, sink := range cfg.EventSinks {
		switch sink {
		case "log":
		case "kafka":
			if len(cfg.KafkaBrokers) == 0 {
				return Config{}, fmt.Errorf("KAFKA_BROKERS must be set for the kafka event sink")
			}
		case "amqp":
			if cfg.AMQPURL == "" {
				return Config{}, fmt.Errorf("AMQP_URL must be set for the amqp event sink")
			}
		case "mongo":
			if cfg.MongoURI == "" {
				return Config{}, fmt.Errorf("MONGO_URI must be set for the mongo event sink")
			}
		default:
			return Config{}, fmt.Errorf("unknown event sink %q", sink)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether in-memory backends may stand in for Postgres and Redis.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// HasSink reports whether the named event sink is enabled.
func (c Config) HasSink(name string) bool {
	for _, s := range c.EventSinks {
		if s == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(durationKey, fallback)
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
