package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
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

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// Dispatch knobs: how long a request stays open, how often the
	// acceptance poll looks, and how many candidates one broadcast hits.
	DispatchWindow   time.Duration
	AcceptPoll       time.Duration
	CandidateLimit   int
	CommissionPct    int
	SearchRadiusM    float64

	// Payment knobs for the poll-until-terminal helper.
	PaymentPollAttempts int
	PaymentPollInterval time.Duration

	GatewayBaseURL   string
	GatewayMerchant  string
	GatewaySecret    string
	GatewayCallback  string
	StripeAPIKey     string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers:geo",
		KafkaTopic:      "dispatch-events",

		DispatchWindow: 30 * time.Second,
		AcceptPoll:     time.Second,
		CandidateLimit: 8,
		CommissionPct:  10,
		SearchRadiusM:  5000,

		PaymentPollAttempts: 10,
		PaymentPollInterval: 3 * time.Second,

		LogLevel: "info",
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
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.DispatchWindow, "DISPATCH_WINDOW", &errs)
	setDurationFromEnv(&cfg.AcceptPoll, "DISPATCH_ACCEPT_POLL", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "DISPATCH_CANDIDATE_LIMIT", &errs)
	setIntFromEnv(&cfg.CommissionPct, "DISPATCH_COMMISSION_PCT", &errs)
	setFloatFromEnv(&cfg.SearchRadiusM, "DISPATCH_SEARCH_RADIUS_M", &errs)

	setIntFromEnv(&cfg.PaymentPollAttempts, "PAYMENT_POLL_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.PaymentPollInterval, "PAYMENT_POLL_INTERVAL", &errs)

	setStringFromEnv(&cfg.GatewayBaseURL, "GATEWAY_BASE_URL")
	setStringFromEnv(&cfg.GatewayMerchant, "GATEWAY_MERCHANT_ID")
	cfg.GatewaySecret = os.Getenv("GATEWAY_SECRET")
	setStringFromEnv(&cfg.GatewayCallback, "GATEWAY_CALLBACK_URL")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.CandidateLimit <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CANDIDATE_LIMIT must be > 0"))
	}
	if cfg.DispatchWindow <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_WINDOW must be > 0"))
	}
	if cfg.AcceptPoll <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_ACCEPT_POLL must be > 0"))
	}
	if cfg.CommissionPct < 0 || cfg.CommissionPct > 100 {
		errs = append(errs, fmt.Errorf("DISPATCH_COMMISSION_PCT must be within 0..100"))
	}
	if cfg.PaymentPollAttempts <= 0 {
		errs = append(errs, fmt.Errorf("PAYMENT_POLL_ATTEMPTS must be > 0"))
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
