// Package main provides the tradelab command: the risk analytics and
// backtesting API server plus one-shot backtest and risk commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tradelab/trading-backend/internal/analytics"
	"github.com/tradelab/trading-backend/internal/backtester"
	"github.com/tradelab/trading-backend/internal/config"
	"github.com/tradelab/trading-backend/internal/data"
	"github.com/tradelab/trading-backend/internal/montecarlo"
	"github.com/tradelab/trading-backend/internal/risk"
	"github.com/tradelab/trading-backend/internal/storage"
	"github.com/tradelab/trading-backend/pkg/types"
)

var (
	cfgFile string
	v       = config.New()
)

// flagKeys maps configuration keys to the flags that override them
var flagKeys = map[string]string{
	"log.level":           "log-level",
	"data.dir":            "data-dir",
	"storage.sqlite_path": "db",
	"server.host":         "host",
	"server.port":         "port",
	"workers.count":       "workers",
}

// rootCmd is the base command for the tradelab CLI
var rootCmd = &cobra.Command{
	Use:   "tradelab",
	Short: "Portfolio risk analytics and moving-average backtesting",
	Long: `tradelab computes portfolio risk metrics (VaR, CVaR, Sharpe, Sortino,
beta, drawdown, Monte Carlo projections, correlation and stress tests) over
stored daily price history, and runs moving-average crossover backtests.

Configuration is read from tradelab.yaml (. or $HOME/.tradelab), then
TRADELAB_* environment variables, then flags.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to configuration file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("data-dir", "./data", "Price history directory")
	pf.String("db", "./data/tradelab.db", "SQLite results database")

	rootCmd.AddCommand(serveCmd, backtestCmd, riskCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges flags of cmd into the configuration and decodes it
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
		return nil, err
	}
	return config.Load(v, cfgFile)
}

// components are the stores and services shared by every command
type components struct {
	logger  *zap.Logger
	config  *types.Config
	prices  *data.Store
	store   *storage.SQLiteStore
	service *analytics.Service
}

func setup(cmd *cobra.Command) (*components, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Log.Level)

	prices, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize price store: %w", err)
	}

	store, err := storage.OpenSQLite(logger, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	simulator := montecarlo.NewSimulator(logger, &montecarlo.SimulatorConfig{
		NumSimulations: cfg.MonteCarlo.Simulations,
		HorizonDays:    cfg.MonteCarlo.HorizonDays,
		Seed:           cfg.MonteCarlo.Seed,
	})

	service := analytics.NewService(
		logger,
		prices,
		store,
		store,
		risk.NewCalculator(logger, simulator, cfg.Risk.RiskFreeRate),
		backtester.NewEngine(logger),
		analytics.ConfigFromRisk(cfg.Risk),
	)

	return &components{
		logger:  logger,
		config:  cfg,
		prices:  prices,
		store:   store,
		service: service,
	}, nil
}

func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		c.logger.Error("Error closing results database", zap.Error(err))
	}
	_ = c.logger.Sync()
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
