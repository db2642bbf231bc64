package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	shift "fuelstation-cloud/internal/shift/domain"
)

// Config is the full runtime configuration of the service.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	JWTSecret   string
	LogLevel    string

	Shift    ShiftConfig
	Alerts   AlertConfig
	Watchdog WatchdogConfig
}

// ShiftConfig tunes the reconciliation engine.
type ShiftConfig struct {
	MeterMax         decimal.Decimal
	CloseTimeout     time.Duration
	LockTimeout      time.Duration
	StatementTimeout time.Duration
	// ToleranceFile is an optional YAML file of variance thresholds.
	ToleranceFile string
	// FixedPrices, when set, replaces the fuel_prices table, e.g. "SUPER=750,GASOIL=690".
	FixedPrices string
}

// AlertConfig controls variance notifications.
type AlertConfig struct {
	ExecutiveRoles []string
	LinkBase       string
	Template       string
	DedupeWindow   time.Duration
}

// WatchdogConfig schedules the stale open shift check.
type WatchdogConfig struct {
	Schedule string
	MaxOpen  time.Duration
}

// Load reads the environment, after applying envFile (or ./.env when empty)
// if it exists. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}
	return FromLookup(os.Getenv)
}

// FromLookup builds a Config from getenv.
func FromLookup(getenv func(string) string) (*Config, error) {
	env := lookup(getenv)
	cfg := &Config{
		DatabaseURL: env.str("DATABASE_URL", env.str("PG_DSN", "")),
		HTTPAddr:    env.str("HTTP_ADDR", ":8080"),
		JWTSecret:   env.str("AUTH_JWT_SECRET", env.str("JWT_SECRET", "")),
		LogLevel:    env.str("LOG_LEVEL", "info"),
		Shift: ShiftConfig{
			ToleranceFile: env.str("TOLERANCE_CONFIG", ""),
			FixedPrices:   env.str("FIXED_PRICES", ""),
		},
		Alerts: AlertConfig{
			ExecutiveRoles: env.list("ALERT_EXECUTIVE_ROLES", []string{"super_admin", "ceo", "finance_director"}),
			LinkBase:       env.str("ALERT_LINK_BASE", "/shifts"),
			Template:       env.str("ALERT_TEMPLATE", ""),
		},
		Watchdog: WatchdogConfig{
			Schedule: env.str("WATCHDOG_SCHEDULE", "*/15 * * * *"),
		},
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	cfg.Shift.MeterMax, err = env.decimal("METER_MAX", shift.DefaultMeterMax)
	collect(err)
	cfg.Shift.CloseTimeout, err = env.duration("CLOSE_TX_TIMEOUT", 15*time.Second)
	collect(err)
	cfg.Shift.LockTimeout, err = env.duration("CLOSE_LOCK_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.Shift.StatementTimeout, err = env.duration("CLOSE_STATEMENT_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.Alerts.DedupeWindow, err = env.duration("ALERT_DEDUPE_WINDOW", 0)
	collect(err)
	cfg.Watchdog.MaxOpen, err = env.duration("WATCHDOG_MAX_OPEN", 14*time.Hour)
	collect(err)
	collect(cfg.Validate())

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	switch {
	case c.DatabaseURL == "":
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	case c.JWTSecret == "":
		return errors.New("config: AUTH_JWT_SECRET is required")
	case c.HTTPAddr == "":
		return errors.New("config: HTTP_ADDR must not be empty")
	}
	if !c.Shift.MeterMax.IsPositive() {
		return errors.New("config: METER_MAX must be positive")
	}
	if c.Shift.CloseTimeout <= 0 || c.Shift.LockTimeout <= 0 || c.Shift.StatementTimeout <= 0 {
		return errors.New("config: close timeouts must be positive")
	}
	if c.Shift.LockTimeout > c.Shift.CloseTimeout {
		return errors.New("config: CLOSE_LOCK_TIMEOUT exceeds CLOSE_TX_TIMEOUT")
	}
	return nil
}

type lookup func(string) string

func (l lookup) str(key, fallback string) string {
	if value := strings.TrimSpace(l(key)); value != "" {
		return value
	}
	return fallback
}

func (l lookup) list(key string, fallback []string) []string {
	raw := l.str(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l lookup) duration(key string, fallback time.Duration) (time.Duration, error) {
	raw := l.str(key, "")
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}

func (l lookup) decimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := l.str(key, "")
	if raw == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback, fmt.Errorf("config: %s: %w", key, err)
	}
	return parsed, nil
}
