// Package ops loads the runtime configuration. A missing file yields
// the documented defaults; a malformed file is an error naming the
// offending field.
package ops

import (
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"main/internal/breaker"
	"main/internal/risk"
	"main/internal/store"
)

// FileConfig mirrors the YAML config layout. Quantities and prices are
// decimal strings so no float ever touches them.
type FileConfig struct {
	Engine  EngineConfig  `yaml:"engine"`
	Risk    RiskConfig    `yaml:"risk"`
	Breaker BreakerConfig `yaml:"breaker"`
	Store   StoreConfig   `yaml:"store"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	SlippageBps   int64  `yaml:"slippageBps"`
	SweepInterval string `yaml:"sweepInterval"`
}

// RiskConfig tunes the risk manager's default limit and global ceilings.
type RiskConfig struct {
	MaxPositionSize  string `yaml:"maxPositionSize"`
	MaxNotionalValue string `yaml:"maxNotionalValue"`
	MaxDailyTrades   int    `yaml:"maxDailyTrades"`
	MaxDailyVolume   string `yaml:"maxDailyVolume"`
	MaxConcentration string `yaml:"maxConcentration"`
	MaxTotalExposure string `yaml:"maxTotalExposure"`
	MaxDrawdown      string `yaml:"maxDrawdown"`
	SweepInterval    string `yaml:"sweepInterval"`
}

// BreakerConfig tunes the gateway circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int    `yaml:"failureThreshold"`
	ResetTimeout      string `yaml:"resetTimeout"`
	TestCallsRequired int    `yaml:"testCallsRequired"`
}

// StoreConfig selects the execution store backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

const (
	defaultSlippageBps       = 5
	defaultEngineSweepPeriod = time.Second
	defaultRiskSweepPeriod   = time.Second
)

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	SlippageBps         int64
	EngineSweepInterval time.Duration
	RiskSweepInterval   time.Duration
	Risk                risk.Config
	Breaker             breaker.Config
	StoreBackend        string
	Postgres            store.PostgresOption
}

// Default returns the configuration used when no file is given.
func Default() Loaded {
	return Loaded{
		SlippageBps:         defaultSlippageBps,
		EngineSweepInterval: defaultEngineSweepPeriod,
		RiskSweepInterval:   defaultRiskSweepPeriod,
		StoreBackend:        StoreMemory,
	}
}

// Load reads a YAML config file and resolves it. An empty path returns
// Default().
func Load(path string) (Loaded, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config")
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	out := Default()

	if cfg.Engine.SlippageBps < 0 {
		return Loaded{}, errors.New("engine.slippageBps must not be negative")
	}
	if cfg.Engine.SlippageBps > 0 {
		out.SlippageBps = cfg.Engine.SlippageBps
	}

	var err error
	if out.EngineSweepInterval, err = parseInterval("engine.sweepInterval", cfg.Engine.SweepInterval, defaultEngineSweepPeriod); err != nil {
		return Loaded{}, err
	}
	if out.RiskSweepInterval, err = parseInterval("risk.sweepInterval", cfg.Risk.SweepInterval, defaultRiskSweepPeriod); err != nil {
		return Loaded{}, err
	}

	if out.Risk, err = resolveRisk(cfg.Risk); err != nil {
		return Loaded{}, err
	}

	if cfg.Breaker.FailureThreshold < 0 {
		return Loaded{}, errors.New("breaker.failureThreshold must not be negative")
	}
	resetTimeout, err := parseInterval("breaker.resetTimeout", cfg.Breaker.ResetTimeout, 0)
	if err != nil {
		return Loaded{}, err
	}
	out.Breaker = breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		ResetTimeout:      resetTimeout,
		TestCallsRequired: cfg.Breaker.TestCallsRequired,
	}

	switch cfg.Store.Backend {
	case "", StoreMemory:
		out.StoreBackend = StoreMemory
	case StorePostgres:
		out.StoreBackend = StorePostgres
		out.Postgres = store.PostgresOption{
			Host:     cfg.Store.Host,
			Port:     cfg.Store.Port,
			User:     cfg.Store.User,
			Password: cfg.Store.Password,
			Database: cfg.Store.Database,
			SSLMode:  cfg.Store.SSLMode,
		}
	default:
		return Loaded{}, errors.Wrap(errors.New("unknown backend"), "store.backend").With("backend", cfg.Store.Backend)
	}

	return out, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	if cfg.MaxDailyTrades < 0 {
		return risk.Config{}, errors.New("risk.maxDailyTrades must not be negative")
	}

	limit := risk.DefaultLimit()
	limit.MaxDailyTrades = orInt(cfg.MaxDailyTrades, limit.MaxDailyTrades)

	var err error
	if limit.MaxPositionSize, err = parseDecimal("risk.maxPositionSize", cfg.MaxPositionSize, limit.MaxPositionSize); err != nil {
		return risk.Config{}, err
	}
	if limit.MaxNotionalValue, err = parseDecimal("risk.maxNotionalValue", cfg.MaxNotionalValue, limit.MaxNotionalValue); err != nil {
		return risk.Config{}, err
	}
	if limit.MaxDailyVolume, err = parseDecimal("risk.maxDailyVolume", cfg.MaxDailyVolume, limit.MaxDailyVolume); err != nil {
		return risk.Config{}, err
	}
	if limit.MaxConcentration, err = parseDecimal("risk.maxConcentration", cfg.MaxConcentration, limit.MaxConcentration); err != nil {
		return risk.Config{}, err
	}

	out := risk.Config{DefaultLimit: limit}
	if out.MaxTotalExposure, err = parseDecimal("risk.maxTotalExposure", cfg.MaxTotalExposure, decimal.Zero); err != nil {
		return risk.Config{}, err
	}
	if out.MaxDrawdown, err = parseDecimal("risk.maxDrawdown", cfg.MaxDrawdown, decimal.Zero); err != nil {
		return risk.Config{}, err
	}
	return out, nil
}

func parseDecimal(field, raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, field)
	}
	if value.IsNegative() {
		return decimal.Zero, errors.New(field + " must not be negative")
	}
	return value, nil
}

func parseInterval(field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrap(err, field)
	}
	if d <= 0 {
		return 0, errors.New(field + " must be positive")
	}
	return d, nil
}

func orInt(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
