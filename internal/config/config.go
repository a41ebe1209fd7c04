package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ride-rewards/internal/models"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr       string
	RedisPassword   string
	ReplayKeyPrefix string
	ReplayRetention time.Duration
	ClaimCursorKey  string

	KafkaBrokers  []string
	IssuanceTopic string

	PGDSN         string
	LevelDBPath   string
	MigrationsDir string

	BootstrapFile string
	MaxRegions    int

	RateLimitRPM   float64
	RateLimitBurst int

	WebhookURL string
	WebhookKey string

	StripeAPIKey        string
	OffsetCurrency      string
	OffsetMinimumCharge int64

	LogLevel      string
	LogFile       string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		ReplayKeyPrefix:     "replay:",
		ClaimCursorKey:      "claims:cursor",
		IssuanceTopic:       "reward-issuance",
		MigrationsDir:       "migrations",
		RateLimitRPM:        600,
		RateLimitBurst:      20,
		OffsetCurrency:      "usd",
		OffsetMinimumCharge: 50,
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.ReplayKeyPrefix, "REPLAY_KEY_PREFIX")
	setDurationFromEnv(&cfg.ReplayRetention, "REPLAY_RETENTION", &errs)
	setStringFromEnv(&cfg.ClaimCursorKey, "CLAIM_CURSOR_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.IssuanceTopic, "KAFKA_ISSUANCE_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.LevelDBPath = strings.TrimSpace(os.Getenv("LEVELDB_PATH"))
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")

	cfg.BootstrapFile = strings.TrimSpace(os.Getenv("BOOTSTRAP_FILE"))
	setIntFromEnv(&cfg.MaxRegions, "CARBON_MAX_REGIONS", &errs)

	setFloatFromEnv(&cfg.RateLimitRPM, "RATE_LIMIT_RPM", &errs)
	setIntFromEnv(&cfg.RateLimitBurst, "RATE_LIMIT_BURST", &errs)

	cfg.WebhookURL = strings.TrimSpace(os.Getenv("RECEIPT_WEBHOOK_URL"))
	cfg.WebhookKey = os.Getenv("RECEIPT_WEBHOOK_KEY")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.OffsetCurrency, "OFFSET_CURRENCY")
	setInt64FromEnv(&cfg.OffsetMinimumCharge, "OFFSET_MINIMUM_CHARGE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.LogFile = strings.TrimSpace(os.Getenv("LOG_FILE"))

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MaxRegions < 0 {
		errs = append(errs, fmt.Errorf("CARBON_MAX_REGIONS must be >= 0"))
	}
	if cfg.RateLimitRPM < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPM must be >= 0"))
	}
	if cfg.ReplayRetention < 0 {
		errs = append(errs, fmt.Errorf("REPLAY_RETENTION must be >= 0"))
	}
	if cfg.OffsetMinimumCharge < 0 {
		errs = append(errs, fmt.Errorf("OFFSET_MINIMUM_CHARGE must be >= 0"))
	}
	if cfg.PGDSN != "" && cfg.LevelDBPath != "" {
		errs = append(errs, fmt.Errorf("PG_DSN and LEVELDB_PATH are mutually exclusive"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the ride-completion consumer.
type ConsumerConfig struct {
	KafkaBrokers []string
	RideTopic    string
	GroupID      string
	// DeadLetterTopic receives rides that could not be rewarded; empty
	// disables it.
	DeadLetterTopic string

	MintURL       string
	MintAuthority models.Address
	MintTimeout   time.Duration
	MintAttempts  int
	RetryDelay    time.Duration

	// OSRMURL enables road-network measurement of GPS traces.
	OSRMURL string

	MetricsAddr string
	LogLevel    string
	LogFile     string
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		KafkaBrokers:    []string{"localhost:9092"},
		RideTopic:       "ride-completions",
		GroupID:         "ride-rewards-consumer",
		DeadLetterTopic: "ride-completions-dlq",
		MintURL:         "http://localhost:8080/api/v1/rewards/mint",
		MintTimeout:     5 * time.Second,
		MintAttempts:    5,
		RetryDelay:      200 * time.Millisecond,
		MetricsAddr:     ":2112",
		LogLevel:        "info",
	}
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.RideTopic, "KAFKA_RIDE_TOPIC")
	setStringFromEnv(&cfg.GroupID, "KAFKA_GROUP")
	if v, ok := os.LookupEnv("KAFKA_DLQ_TOPIC"); ok {
		cfg.DeadLetterTopic = strings.TrimSpace(v)
	}

	setStringFromEnv(&cfg.MintURL, "MINT_URL")
	if v := strings.TrimSpace(os.Getenv("MINT_AUTHORITY")); v != "" {
		a, err := models.ParseAddress(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid MINT_AUTHORITY: %w", err))
		}
		cfg.MintAuthority = a
	} else {
		errs = append(errs, fmt.Errorf("MINT_AUTHORITY is required"))
	}
	setDurationFromEnv(&cfg.MintTimeout, "MINT_TIMEOUT", &errs)
	setIntFromEnv(&cfg.MintAttempts, "MINT_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "MINT_RETRY_DELAY", &errs)

	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.LogFile = strings.TrimSpace(os.Getenv("LOG_FILE"))

	if cfg.MintAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MINT_ATTEMPTS must be > 0"))
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
