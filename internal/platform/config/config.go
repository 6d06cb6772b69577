// Package config builds process configuration from environment
// variables so main stays lean. Invalid values produce a ConfigError;
// main maps that to exit code 64.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
)

// ConfigError marks a fatal misconfiguration detected at startup.
type ConfigError struct {
	Var    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Var, e.Reason)
}

// VendorSecrets holds the per-vendor credentials loaded once at
// startup. Rotation requires a restart.
type VendorSecrets struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}

// RedisConfig captures Redis connection tuning.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RouterConfig holds the utility-score knobs of the bandit policy.
type RouterConfig struct {
	BaseEpsilon    float64
	WSuccess       float64
	WCost          float64
	WLatency       float64
	WBudget        float64
	CostCeiling    decimal.Decimal
	LatencyCeiling int // milliseconds
	WarmupAttempts int
	SmoothingAlpha float64

	// Exploration adaptation: VolatilityK scales how much variance in
	// the recent top utilities raises epsilon; GapFloor is the top1-top2
	// separation under which extra exploration kicks in.
	VolatilityK float64
	GapFloor    float64
}

// Config is the full process configuration.
type Config struct {
	Addr            string
	DatabaseURL     string
	Redis           RedisConfig
	KafkaBrokers    []string
	AdminJWTKey     string
	AdminSecretHash string

	BillingTimezone  *time.Location
	ThresholdApprove float64
	MaxRetries       int
	Workers          int
	BudgetEpsilon    decimal.Decimal
	CallbackGrace    time.Duration

	Router  RouterConfig
	Vendors map[domain.VendorID]VendorSecrets
}

// FromEnv reads all KYC_* environment variables and validates them.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:        envOr("KYC_ADDR", ":8080"),
		DatabaseURL: os.Getenv("KYC_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("KYC_REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		AdminJWTKey:     envOr("KYC_ADMIN_JWT_KEY", ""),
		AdminSecretHash: os.Getenv("KYC_ADMIN_SECRET_HASH"),
		CallbackGrace:   5 * time.Minute,
	}

	if brokers := os.Getenv("KYC_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	tzName := envOr("KYC_BILLING_TIMEZONE", "America/Sao_Paulo")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, &ConfigError{Var: "KYC_BILLING_TIMEZONE", Reason: "unknown timezone " + tzName}
	}
	cfg.BillingTimezone = loc

	cfg.ThresholdApprove, err = envFloat("KYC_THRESHOLD_APPROVE", 0.80)
	if err != nil {
		return Config{}, err
	}
	if cfg.ThresholdApprove < 0.55 || cfg.ThresholdApprove > 1 {
		return Config{}, &ConfigError{Var: "KYC_THRESHOLD_APPROVE", Reason: "must be within [0.55, 1]"}
	}

	cfg.MaxRetries, err = envInt("KYC_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	cfg.Workers, err = envInt("KYC_WORKERS", 8)
	if err != nil {
		return Config{}, err
	}

	cfg.BudgetEpsilon, err = envDecimal("KYC_BUDGET_EPSILON", "1.00")
	if err != nil {
		return Config{}, err
	}

	cfg.Router, err = routerFromEnv()
	if err != nil {
		return Config{}, err
	}

	cfg.Vendors = make(map[domain.VendorID]VendorSecrets, len(domain.AllVendors()))
	for _, vendor := range domain.AllVendors() {
		prefix := "KYC_VENDOR_" + strings.ToUpper(vendor.String())
		secrets := VendorSecrets{
			APIKey:        os.Getenv(prefix + "_API_KEY"),
			WebhookSecret: os.Getenv(prefix + "_WEBHOOK_SECRET"),
			BaseURL:       os.Getenv(prefix + "_BASE_URL"),
		}
		cfg.Vendors[vendor] = secrets
	}

	return cfg, nil
}

// Validate enforces the invariants that only matter when serving real
// traffic. Split from FromEnv so tests can build partial configs.
func (c Config) Validate() error {
	for vendor, secrets := range c.Vendors {
		if secrets.WebhookSecret == "" {
			return &ConfigError{
				Var:    "KYC_VENDOR_" + strings.ToUpper(vendor.String()) + "_WEBHOOK_SECRET",
				Reason: "missing webhook secret",
			}
		}
	}
	if c.AdminJWTKey == "" {
		return &ConfigError{Var: "KYC_ADMIN_JWT_KEY", Reason: "missing admin JWT signing key"}
	}
	return nil
}

func routerFromEnv() (RouterConfig, error) {
	rc := RouterConfig{
		WSuccess:       0.50,
		WCost:          0.25,
		WLatency:       0.15,
		WBudget:        0.10,
		LatencyCeiling: 5000,
		WarmupAttempts: 20,
		SmoothingAlpha: 5,
		VolatilityK:    0.5,
		GapFloor:       0.05,
	}
	var err error
	rc.BaseEpsilon, err = envFloat("KYC_BASE_EPSILON", 0.10)
	if err != nil {
		return rc, err
	}
	if rc.BaseEpsilon < 0 || rc.BaseEpsilon > 1 {
		return rc, &ConfigError{Var: "KYC_BASE_EPSILON", Reason: "must be within [0, 1]"}
	}
	rc.CostCeiling, err = envDecimal("KYC_COST_CEILING", "10.00")
	if err != nil {
		return rc, err
	}
	rc.LatencyCeiling, err = envInt("KYC_LATENCY_CEILING_MS", 5000)
	if err != nil {
		return rc, err
	}
	return rc, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ConfigError{Var: key, Reason: "not a number: " + raw}
	}
	return v, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &ConfigError{Var: key, Reason: "not a non-negative integer: " + raw}
	}
	return v, nil
}

func envDecimal(key, fallback string) (decimal.Decimal, error) {
	raw := os.Getenv(key)
	if raw == "" {
		raw = fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		return decimal.Zero, &ConfigError{Var: key, Reason: "not a non-negative decimal: " + raw}
	}
	return v, nil
}
