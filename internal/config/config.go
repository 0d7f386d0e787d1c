package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/tradegate/internal/data/gate"
	"github.com/sawpanic/tradegate/internal/domain"
	"github.com/sawpanic/tradegate/internal/exchange"
	"github.com/sawpanic/tradegate/internal/macro"
	"github.com/sawpanic/tradegate/internal/marketdata"
	"github.com/sawpanic/tradegate/internal/net/circuit"
	"github.com/sawpanic/tradegate/internal/regime"
	"github.com/sawpanic/tradegate/internal/scheduler"
	"github.com/sawpanic/tradegate/internal/structure"
)

// RedisConfig configures the optional shared signal cache. Disabled means
// every process keeps its own in-memory caches only.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	HTTPAddr   string `yaml:"http_addr"`
	ParamsFile string `yaml:"params_file"` // empty means the built-in table

	Exchange     exchange.RESTConfig `yaml:"exchange"`
	MarketData   marketdata.Config   `yaml:"market_data"`
	Gate         gate.Config         `yaml:"gate"`
	Regime       regime.Config       `yaml:"regime"`
	Structure    structure.Config    `yaml:"structure"`
	Macro        macro.Config        `yaml:"macro"`
	MacroSources macro.SourcesConfig `yaml:"macro_sources"`
	Breakers     circuit.Config      `yaml:"breakers"`
	Scheduler    scheduler.Config    `yaml:"scheduler"`
	Redis        RedisConfig         `yaml:"redis"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		LogLevel:     "info",
		HTTPAddr:     ":8080",
		Exchange:     exchange.DefaultRESTConfig(),
		MarketData:   marketdata.DefaultConfig(),
		Gate:         gate.DefaultConfig(),
		Regime:       regime.DefaultConfig(),
		Structure:    structure.DefaultConfig(),
		Macro:        macro.DefaultConfig(),
		MacroSources: macro.DefaultSourcesConfig(),
		Breakers:     circuit.DefaultConfig(),
		Scheduler:    scheduler.DefaultConfig(),
		Redis:        RedisConfig{Prefix: "tradegate"},
	}
}

// Load overlays a YAML file onto the defaults and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &domain.ConfigurationError{Section: "file", Message: err.Error()}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &domain.ConfigurationError{Section: "file", Message: fmt.Sprintf("failed to parse %s: %v", path, err)}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misbehave silently at runtime.
func (c Config) Validate() error {
	if len(c.Scheduler.Symbols) == 0 {
		return &domain.ConfigurationError{Section: "scheduler", Message: "at least one symbol is required"}
	}
	if c.Scheduler.Workers <= 0 {
		return &domain.ConfigurationError{Section: "scheduler", Message: "workers must be positive"}
	}
	if c.Scheduler.Interval <= 0 || c.Scheduler.SymbolTimeout <= 0 {
		return &domain.ConfigurationError{Section: "scheduler", Message: "interval and symbol_timeout must be positive"}
	}
	if c.Gate.MinAnalysisCandles <= 0 || c.Gate.MinSynthesisCandles < c.Gate.MinAnalysisCandles {
		return &domain.ConfigurationError{Section: "gate", Message: "synthesis minimum must be at least the analysis minimum"}
	}
	if c.Gate.FetchLimit < c.Gate.MinSynthesisCandles {
		return &domain.ConfigurationError{Section: "gate", Message: "fetch_limit below the synthesis minimum can never pass the gate"}
	}
	if c.Regime.VolLowBand >= c.Regime.VolHighBand {
		return &domain.ConfigurationError{Section: "regime", Message: "vol_low_band must be below vol_high_band"}
	}
	if c.Exchange.BaseURL == "" {
		return &domain.ConfigurationError{Section: "exchange", Message: "base_url is required"}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return &domain.ConfigurationError{Section: "redis", Message: "addr is required when redis is enabled"}
	}
	if c.Breakers.FailureThreshold <= 0 {
		return &domain.ConfigurationError{Section: "breakers", Message: "failure_threshold must be positive"}
	}
	return nil
}
