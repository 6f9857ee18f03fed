// Package config loads the arbengine configuration from YAML with ARB_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/defistate/arbitrage-engine/cycle"
	"github.com/defistate/arbitrage-engine/fixedpoint"
)

// Engine tunes the detection pipeline. SimulateSettlement settles accepted
// plans against the local store.
type Engine struct {
	MaxHops                int             `yaml:"max_hops"`
	BaseTokens             []uint64        `yaml:"base_tokens"`
	Workers                int             `yaml:"workers"`
	PassInterval           time.Duration   `yaml:"pass_interval"`
	MinProfitThreshold     decimal.Decimal `yaml:"min_profit_threshold"`
	LiquidityCapFraction   float64         `yaml:"liquidity_cap_fraction"`
	StalenessWindow        time.Duration   `yaml:"staleness_window"`
	OptimizerTolerance     decimal.Decimal `yaml:"optimizer_tolerance"`
	MaxOptimizerIterations int             `yaml:"max_optimizer_iterations"`
	SlippageToleranceBps   uint64          `yaml:"slippage_tolerance_bps"`
	SimulateSettlement     bool            `yaml:"simulate_settlement"`
}

type CostModel struct {
	LoanPremiumBps uint64          `yaml:"loan_premium_bps"`
	SettlementCost decimal.Decimal `yaml:"settlement_cost"`
}

type Feed struct {
	// URL is a websocket pool stream; when empty the file feed is used.
	URL             string        `yaml:"url"`
	File            string        `yaml:"file"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type Config struct {
	Engine    Engine    `yaml:"engine"`
	CostModel CostModel `yaml:"cost_model"`
	Feed      Feed      `yaml:"feed"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
}

func Defaults() Config {
	return Config{
		Engine: Engine{
			MaxHops:                3,
			Workers:                4,
			PassInterval:           500 * time.Millisecond,
			MinProfitThreshold:     decimal.RequireFromString("0.0001"),
			LiquidityCapFraction:   0.9,
			StalenessWindow:        12 * time.Second,
			OptimizerTolerance:     decimal.RequireFromString("0.000001"),
			MaxOptimizerIterations: 128,
			SlippageToleranceBps:   50,
		},
		CostModel: CostModel{
			LoanPremiumBps: 5,
			SettlementCost: decimal.Zero,
		},
		Feed: Feed{
			File:            "pools.json",
			RefreshInterval: time.Second,
		},
		Metrics: Metrics{Addr: ":9100"},
		Logging: Logging{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies ARB_*
// environment overrides, reading a .env file first when one is present.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// a missing .env file is not an error
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(setInt(&cfg.Engine.MaxHops, "ARB_ENGINE_MAX_HOPS"))
	collect(setUint64Slice(&cfg.Engine.BaseTokens, "ARB_ENGINE_BASE_TOKENS"))
	collect(setInt(&cfg.Engine.Workers, "ARB_ENGINE_WORKERS"))
	collect(setDuration(&cfg.Engine.PassInterval, "ARB_ENGINE_PASS_INTERVAL"))
	collect(setDecimal(&cfg.Engine.MinProfitThreshold, "ARB_ENGINE_MIN_PROFIT_THRESHOLD"))
	collect(setFloat64(&cfg.Engine.LiquidityCapFraction, "ARB_ENGINE_LIQUIDITY_CAP_FRACTION"))
	collect(setDuration(&cfg.Engine.StalenessWindow, "ARB_ENGINE_STALENESS_WINDOW"))
	collect(setDecimal(&cfg.Engine.OptimizerTolerance, "ARB_ENGINE_OPTIMIZER_TOLERANCE"))
	collect(setInt(&cfg.Engine.MaxOptimizerIterations, "ARB_ENGINE_MAX_OPTIMIZER_ITERATIONS"))
	collect(setUint64(&cfg.Engine.SlippageToleranceBps, "ARB_ENGINE_SLIPPAGE_TOLERANCE_BPS"))
	collect(setBool(&cfg.Engine.SimulateSettlement, "ARB_ENGINE_SIMULATE_SETTLEMENT"))

	collect(setUint64(&cfg.CostModel.LoanPremiumBps, "ARB_COST_MODEL_LOAN_PREMIUM_BPS"))
	collect(setDecimal(&cfg.CostModel.SettlementCost, "ARB_COST_MODEL_SETTLEMENT_COST"))

	setStr(&cfg.Feed.URL, "ARB_FEED_URL")
	setStr(&cfg.Feed.File, "ARB_FEED_FILE")
	collect(setDuration(&cfg.Feed.RefreshInterval, "ARB_FEED_REFRESH_INTERVAL"))

	setStr(&cfg.Metrics.Addr, "ARB_METRICS_ADDR")
	setStr(&cfg.Logging.Level, "ARB_LOG_LEVEL")

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	e := c.Engine
	if e.MaxHops < cycle.MinHops || e.MaxHops > cycle.MaxHops {
		fail("engine.max_hops %d not in [%d, %d]", e.MaxHops, cycle.MinHops, cycle.MaxHops)
	}
	if e.Workers < 1 {
		fail("engine.workers must be positive")
	}
	if e.PassInterval <= 0 {
		fail("engine.pass_interval must be positive")
	}
	if !e.MinProfitThreshold.IsPositive() {
		fail("engine.min_profit_threshold must be positive")
	}
	if e.LiquidityCapFraction <= 0 || e.LiquidityCapFraction > 1 {
		fail("engine.liquidity_cap_fraction %v not in (0, 1]", e.LiquidityCapFraction)
	}
	if e.StalenessWindow <= 0 {
		fail("engine.staleness_window must be positive")
	}
	if !e.OptimizerTolerance.IsPositive() {
		fail("engine.optimizer_tolerance must be positive")
	}
	if e.MaxOptimizerIterations < 1 {
		fail("engine.max_optimizer_iterations must be positive")
	}
	if e.SlippageToleranceBps >= fixedpoint.BasisPoints {
		fail("engine.slippage_tolerance_bps %d must be below %d", e.SlippageToleranceBps, fixedpoint.BasisPoints)
	}

	if c.CostModel.LoanPremiumBps >= fixedpoint.BasisPoints {
		fail("cost_model.loan_premium_bps %d must be below %d", c.CostModel.LoanPremiumBps, fixedpoint.BasisPoints)
	}
	if c.CostModel.SettlementCost.IsNegative() {
		fail("cost_model.settlement_cost must not be negative")
	}

	if c.Feed.URL == "" {
		if c.Feed.File == "" {
			fail("feed: one of url or file is required")
		}
		if c.Feed.RefreshInterval <= 0 {
			fail("feed.refresh_interval must be positive")
		}
	}

	if _, err := c.LogLevel(); err != nil {
		fail("logging.level: %w", err)
	}
	return errors.Join(errs...)
}

// CapBps is the liquidity cap fraction in basis points.
func (c *Config) CapBps() (uint64, error) {
	return fixedpoint.BpsFromFraction(c.Engine.LiquidityCapFraction)
}

func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Logging.Level))
	return level, err
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func setUint64(dst *uint64, key string) error {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func setBool(dst *bool, key string) error {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func setFloat64(dst *float64, key string) error {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
	}
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func setDecimal(dst *decimal.Decimal, key string) error {
	if v := os.Getenv(key); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

func setUint64Slice(dst *[]uint64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []uint64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, n)
	}
	*dst = out
	return nil
}
