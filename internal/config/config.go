// Package config loads chorebank settings from the environment. A .env
// file in the working directory is read first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	DBPath   string
	BaseURL  string
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string

	// JWTSecret verifies identity tokens (HS256).
	JWTSecret string
	// AdminToken guards coupon administration.
	AdminToken string

	SchedulerInterval time.Duration

	CacheSize int
	CacheTTL  time.Duration

	RateLimit      float64
	RateLimitBurst int

	PostmarkToken string
	EmailFrom     string
	NotifyTimeout time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	PriceStarterMonthly int64
	PriceStarterYearly  int64
	PricePremiumMonthly int64
	PricePremiumYearly  int64
}

// Load reads .env files (missing files are ignored) and then the
// environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from CHOREBANK_* environment variables.
func FromEnv() (*Config, error) {
	p := parser{}
	cfg := &Config{
		Port:      p.str("PORT", "8080"),
		DBPath:    p.str("DB_PATH", "chorebank.db"),
		BaseURL:   p.str("BASE_URL", "http://localhost:8080"),
		LogLevel:  p.str("LOG_LEVEL", "info"),
		LogFormat: p.str("LOG_FORMAT", "text"),

		JWTSecret:  p.str("JWT_SECRET", ""),
		AdminToken: p.str("ADMIN_TOKEN", ""),

		SchedulerInterval: p.duration("SCHEDULER_INTERVAL", time.Minute),

		CacheSize: p.intVal("CACHE_SIZE", 256),
		CacheTTL:  p.duration("CACHE_TTL", 30*time.Second),

		RateLimit:      p.float("RATE_LIMIT", 10),
		RateLimitBurst: p.intVal("RATE_LIMIT_BURST", 20),

		PostmarkToken: p.str("POSTMARK_TOKEN", ""),
		EmailFrom:     p.str("EMAIL_FROM", "noreply@chorebank.local"),
		NotifyTimeout: p.duration("NOTIFY_TIMEOUT", 10*time.Second),

		StripeSecretKey:     p.str("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: p.str("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            strings.ToLower(p.str("CURRENCY", "usd")),

		PriceStarterMonthly: p.int64Val("PRICE_STARTER_MONTHLY", 499),
		PriceStarterYearly:  p.int64Val("PRICE_STARTER_YEARLY", 4990),
		PricePremiumMonthly: p.int64Val("PRICE_PREMIUM_MONTHLY", 999),
		PricePremiumYearly:  p.int64Val("PRICE_PREMIUM_YEARLY", 9990),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval <= 0 {
		return nil, fmt.Errorf("CHOREBANK_SCHEDULER_INTERVAL must be positive")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("CHOREBANK_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

const prefix = "CHOREBANK_"

type parser struct {
	errs []error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(prefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) intVal(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (p *parser) int64Val(key string, def int64) int64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return d
}
