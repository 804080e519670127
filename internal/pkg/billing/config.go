package billing

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/inmodash/inmodash-backend/app/models"
	"github.com/inmodash/inmodash-backend/internal/pkg/env"
)

const (
	defaultPlan             = "professional"
	defaultAmount           = "289"
	defaultCurrency         = "USD"
	defaultBillingFrequency = 1
	defaultTrialDays        = 30
	defaultProviderTimeout  = 10 * time.Second
	defaultSuccessURL       = "https://inmodash.com.ar/dashboard?payment=success"
)

// Config holds the subscription plan defaults and provider call settings.
type Config struct {
	DefaultPlan          string
	DefaultAmount        decimal.Decimal
	DefaultCurrency      string
	BillingFrequency     int
	BillingFrequencyType string
	TrialDays            int
	SuccessURL           string
	ProviderTimeout      time.Duration
}

// DefaultConfig returns the built-in plan: professional, 289 USD monthly with a 30 day trial.
func DefaultConfig() Config {
	return Config{
		DefaultPlan:          defaultPlan,
		DefaultAmount:        decimal.RequireFromString(defaultAmount),
		DefaultCurrency:      defaultCurrency,
		BillingFrequency:     defaultBillingFrequency,
		BillingFrequencyType: models.FrequencyTypeMonths,
		TrialDays:            defaultTrialDays,
		SuccessURL:           defaultSuccessURL,
		ProviderTimeout:      defaultProviderTimeout,
	}
}

// ConfigFromEnv overlays SUBSCRIPTION_* and MP_* environment values on the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.DefaultPlan = strings.TrimSpace(env.GetEnv("SUBSCRIPTION_DEFAULT_PLAN", cfg.DefaultPlan))
	if raw := strings.TrimSpace(env.GetEnv("SUBSCRIPTION_DEFAULT_AMOUNT", "")); raw != "" {
		if amount, err := decimal.NewFromString(raw); err == nil && amount.IsPositive() {
			cfg.DefaultAmount = amount
		} else {
			log.Warnf("[Billing] Ignoring invalid SUBSCRIPTION_DEFAULT_AMOUNT %q", raw)
		}
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(env.GetEnv("SUBSCRIPTION_DEFAULT_CURRENCY", cfg.DefaultCurrency)))
	cfg.BillingFrequency = envInt("SUBSCRIPTION_BILLING_FREQUENCY", cfg.BillingFrequency)
	if ft := strings.ToLower(strings.TrimSpace(env.GetEnv("SUBSCRIPTION_BILLING_FREQUENCY_TYPE", ""))); ft == models.FrequencyTypeDays || ft == models.FrequencyTypeMonths {
		cfg.BillingFrequencyType = ft
	}
	cfg.TrialDays = envInt("SUBSCRIPTION_TRIAL_DAYS", cfg.TrialDays)
	cfg.SuccessURL = strings.TrimSpace(env.GetEnv("MP_SUCCESS_URL", cfg.SuccessURL))
	if raw := strings.TrimSpace(env.GetEnv("MP_TIMEOUT", "")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.ProviderTimeout = d
		}
	}
	return cfg
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		log.Warnf("[Billing] Ignoring invalid %s %q", key, raw)
		return def
	}
	return v
}
