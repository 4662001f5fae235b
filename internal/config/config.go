// Package config loads the application configuration from defaults, an
// optional config file, TRADELAB_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tradelab/trading-backend/pkg/types"
)

// EnvPrefix is the prefix of environment overrides, e.g. TRADELAB_SERVER_PORT
const EnvPrefix = "TRADELAB"

// FileName is the config file looked up in the working directory and $HOME/.tradelab
const FileName = "tradelab"

// SetDefaults registers every configuration key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("data.dir", "./data")
	v.SetDefault("storage.sqlite_path", "./data/tradelab.db")
	v.SetDefault("log.level", "info")

	v.SetDefault("risk.risk_free_rate", 0.02)
	v.SetDefault("risk.lookback_days", 365)
	v.SetDefault("risk.benchmark_symbol", "SPY")
	v.SetDefault("risk.benchmark_asset_type", string(types.AssetTypeStock))

	v.SetDefault("montecarlo.simulations", 1000)
	v.SetDefault("montecarlo.horizon_days", 252)
	v.SetDefault("montecarlo.seed", 0)

	v.SetDefault("workers.count", runtime.NumCPU())
	v.SetDefault("workers.queue_size", 256)
	v.SetDefault("workers.task_timeout", 60*time.Second)
}

// New returns a viper instance with defaults and environment binding applied
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.tradelab")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// BindFlags binds command-line flags to configuration keys. Keys whose flag is
// not present in fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, flag := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the config file (explicit path or the default search paths) and
// decodes the merged configuration. A missing default file is not an error.
func Load(v *viper.Viper, path string) (*types.Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the decoded configuration
func Validate(cfg *types.Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Risk.LookbackDays < 2 {
		return fmt.Errorf("risk.lookback_days must be at least 2, got %d", cfg.Risk.LookbackDays)
	}
	if !types.AssetType(cfg.Risk.BenchmarkAssetType).Valid() {
		return fmt.Errorf("invalid risk.benchmark_asset_type %q", cfg.Risk.BenchmarkAssetType)
	}
	if cfg.MonteCarlo.Simulations < 1 || cfg.MonteCarlo.HorizonDays < 1 {
		return fmt.Errorf("montecarlo.simulations and montecarlo.horizon_days must be positive")
	}
	if cfg.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be positive, got %d", cfg.Workers.Count)
	}
	return nil
}
