// Package config loads service settings from ECON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/atmx/economy-engine/internal/limits"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "ECON"

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string   `envconfig:"DATABASE_URL"`
	DB          DBConfig `envconfig:"DB"`

	RedisURL string        `envconfig:"REDIS_URL"`
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`

	LevelsURL     string        `envconfig:"LEVELS_URL"`
	LevelsTimeout time.Duration `envconfig:"LEVELS_TIMEOUT" default:"5s"`

	MinHeldWire   decimal.Decimal `envconfig:"MIN_HELD_WIRE" default:"100"`
	ModCommission decimal.Decimal `envconfig:"MOD_COMMISSION" default:"0.1"`
	CashbackRates CashbackRates   `envconfig:"CASHBACK_RATES"`

	WireTimeout  time.Duration     `envconfig:"WIRE_TIMEOUT" default:"60s"`
	WireEntities map[string]string `envconfig:"WIRE_ENTITIES"`
}

// DBConfig sizes the connection pool.
type DBConfig struct {
	MaxConns    int32 `envconfig:"MAX_CONNS" default:"10"`
	MinConns    int32 `envconfig:"MIN_CONNS" default:"2"`
	AutoMigrate bool  `envconfig:"AUTO_MIGRATE" default:"false"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.MinHeldWire.IsNegative() {
		errs = append(errs, fmt.Errorf("MIN_HELD_WIRE must not be negative, got %s", c.MinHeldWire))
	}
	if c.ModCommission.IsNegative() || c.ModCommission.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("MOD_COMMISSION must be within [0, 1], got %s", c.ModCommission))
	}
	if c.DB.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DB.MaxConns))
	}
	if c.DB.MinConns < 0 || c.DB.MinConns > c.DB.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS must be within [0, %d], got %d", c.DB.MaxConns, c.DB.MinConns))
	}
	if c.WireTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WIRE_TIMEOUT must be positive, got %s", c.WireTimeout))
	}
	if c.LevelsTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LEVELS_TIMEOUT must be positive, got %s", c.LevelsTimeout))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL))
	}
	for id, name := range c.WireEntities {
		if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("WIRE_ENTITIES entry %q:%q needs both an id and a name", id, name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Policy builds the ledger limits. Without CASHBACK_RATES the default
// card table applies.
func (c *Config) Policy() *limits.Policy {
	table := limits.DefaultCashback()
	if c.CashbackRates != nil {
		table = limits.CashbackTable(c.CashbackRates)
	}
	return limits.NewPolicy(c.MinHeldWire, c.ModCommission, table)
}

// EntityIDs returns the configured wire entity ids in sorted order.
func (c *Config) EntityIDs() []string {
	ids := make([]string, 0, len(c.WireEntities))
	for id := range c.WireEntities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SlogLevel maps LOG_LEVEL onto slog, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// CashbackRates maps an item id to its rebate rate. The environment form
// is "010:0.01,020:0.02".
type CashbackRates map[string]decimal.Decimal

// Decode implements envconfig.Decoder.
func (r *CashbackRates) Decode(value string) error {
	out := CashbackRates{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, rate, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("cashback entry %q: want item:rate", pair)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("cashback entry %q: empty item id", pair)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil {
			return fmt.Errorf("cashback entry %q: %w", pair, err)
		}
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("cashback entry %q: rate must be within [0, 1]", pair)
		}
		out[id] = v
	}
	*r = out
	return nil
}
