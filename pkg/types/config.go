// Package types provides configuration types for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BacktestRun represents the input configuration for a backtest run
type BacktestRun struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	AssetType      AssetType       `json:"assetType"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	ShortWindow    int             `json:"shortWindow"`
	LongWindow     int             `json:"longWindow"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	CORSOrigins   []string      `json:"corsOrigins" mapstructure:"cors_origins"`
}

// DataConfig represents price-history storage configuration
type DataConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// StorageConfig represents results repository configuration
type StorageConfig struct {
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`
}

// RiskConfig represents risk analytics settings
type RiskConfig struct {
	RiskFreeRate       float64 `json:"riskFreeRate" mapstructure:"risk_free_rate"`
	LookbackDays       int     `json:"lookbackDays" mapstructure:"lookback_days"`
	BenchmarkSymbol    string  `json:"benchmarkSymbol" mapstructure:"benchmark_symbol"`
	BenchmarkAssetType string  `json:"benchmarkAssetType" mapstructure:"benchmark_asset_type"`
}

// MonteCarloConfig represents Monte Carlo simulation settings
type MonteCarloConfig struct {
	Simulations int   `json:"simulations" mapstructure:"simulations"`
	HorizonDays int   `json:"horizonDays" mapstructure:"horizon_days"`
	Seed        int64 `json:"seed" mapstructure:"seed"`
}

// WorkerConfig represents the compute pool settings
type WorkerConfig struct {
	Count       int           `json:"count" mapstructure:"count"`
	QueueSize   int           `json:"queueSize" mapstructure:"queue_size"`
	TaskTimeout time.Duration `json:"taskTimeout" mapstructure:"task_timeout"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

// Config is the full application configuration
type Config struct {
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Data       DataConfig       `json:"data" mapstructure:"data"`
	Storage    StorageConfig    `json:"storage" mapstructure:"storage"`
	Risk       RiskConfig       `json:"risk" mapstructure:"risk"`
	MonteCarlo MonteCarloConfig `json:"monteCarlo" mapstructure:"montecarlo"`
	Workers    WorkerConfig     `json:"workers" mapstructure:"workers"`
	Log        LogConfig        `json:"log" mapstructure:"log"`
}
