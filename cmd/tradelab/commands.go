package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/api"
	"github.com/tradelab/trading-backend/internal/workers"
	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

var (
	btSymbol    string
	btAssetType string
	btShort     int
	btLong      int
	btCapital   string
	btFrom      string
	btTo        string
	btJSON      bool

	riskPortfolio string
	riskJSON      bool
)

// serveCmd runs the HTTP/WebSocket API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analytics API server",
	Long: `Serve the REST API under /api/v1, WebSocket completion notifications
and Prometheus metrics. Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

// backtestCmd runs a single backtest and stores its result
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a moving-average crossover backtest",
	Long: `Run a moving-average crossover backtest over stored daily bars and save
the result to the results database.

Example usage:
  tradelab backtest --symbol AAPL --short 10 --long 50
  tradelab backtest --symbol BTC --asset-type crypto --from 2023-01-01 --json`,
	RunE: runBacktest,
}

// riskCmd computes and stores a risk snapshot for a portfolio
var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Calculate risk metrics for a portfolio",
	RunE:  runRisk,
}

func init() {
	serveCmd.Flags().String("host", "localhost", "Server host")
	serveCmd.Flags().Int("port", 8080, "Server port")
	serveCmd.Flags().Int("workers", 0, "Compute workers")

	backtestCmd.Flags().StringVar(&btSymbol, "symbol", "", "Symbol to backtest")
	backtestCmd.Flags().StringVar(&btAssetType, "asset-type", string(types.AssetTypeStock), "Asset type (stock, crypto)")
	backtestCmd.Flags().IntVar(&btShort, "short", 10, "Short moving-average window")
	backtestCmd.Flags().IntVar(&btLong, "long", 50, "Long moving-average window")
	backtestCmd.Flags().StringVar(&btCapital, "capital", "10000", "Initial capital")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "Start date (YYYY-MM-DD or RFC3339)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "End date (YYYY-MM-DD or RFC3339)")
	backtestCmd.Flags().BoolVar(&btJSON, "json", false, "Print the full result as JSON")
	_ = backtestCmd.MarkFlagRequired("symbol")

	riskCmd.Flags().StringVar(&riskPortfolio, "portfolio", "", "Portfolio ID")
	riskCmd.Flags().BoolVar(&riskJSON, "json", false, "Print the full result as JSON")
	_ = riskCmd.MarkFlagRequired("portfolio")
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := setup(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := c.config
	logger := c.logger

	logger.Info("Starting tradelab",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.Data.Dir),
		zap.String("db", cfg.Storage.SQLitePath),
		zap.Int("workers", cfg.Workers.Count),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := workers.NewPool(logger, &workers.PoolConfig{
		Name:            "compute",
		NumWorkers:      cfg.Workers.Count,
		QueueSize:       cfg.Workers.QueueSize,
		TaskTimeout:     cfg.Workers.TaskTimeout,
		ShutdownTimeout: 30 * time.Second,
	})
	pool.Start()

	hub := api.NewHub(logger.Named("ws"))
	go hub.Run(ctx)

	server := api.NewServer(logger, &cfg.Server, api.Deps{
		Service: c.service,
		Store:   c.store,
		Prices:  c.prices,
		Pool:    pool,
		Hub:     hub,
	})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	logger.Info("Server started successfully",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/api/v1%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	var serveErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case serveErr = <-errChan:
		if serveErr != nil {
			logger.Error("Server error", zap.Error(serveErr))
		}
	}

	// Graceful server shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	cancel()

	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	logger.Info("Server stopped")
	return serveErr
}

func runBacktest(cmd *cobra.Command, args []string) error {
	run, err := backtestRunFromFlags()
	if err != nil {
		return err
	}
	if err := api.ValidateRun(run); err != nil {
		return err
	}

	c, err := setup(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.service.RunBacktest(cmd.Context(), run)
	if err != nil {
		return err
	}

	if btJSON {
		return printJSON(result)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", result.ID)
	fmt.Fprintf(w, "Symbol\t%s (%s)\n", result.Run.Symbol, result.Run.AssetType)
	fmt.Fprintf(w, "Windows\t%d / %d\n", result.Run.ShortWindow, result.Run.LongWindow)
	fmt.Fprintf(w, "Bars\t%d\n", result.BarsProcessed)
	fmt.Fprintf(w, "Initial capital\t%s\n", utils.FormatMoney(result.InitialCapital, "USD"))
	fmt.Fprintf(w, "Final capital\t%s\n", utils.FormatMoney(result.FinalCapital, "USD"))
	fmt.Fprintf(w, "Total return\t%s\n", utils.FormatPercent(result.TotalReturn))
	fmt.Fprintf(w, "Sharpe ratio\t%.3f\n", result.SharpeRatio)
	fmt.Fprintf(w, "Max drawdown\t%s\n", utils.FormatPercent(result.MaxDrawdown))
	fmt.Fprintf(w, "Trades\t%d (win rate %s)\n", result.TotalTrades, utils.FormatPercent(result.WinRate))
	return w.Flush()
}

func backtestRunFromFlags() (types.BacktestRun, error) {
	capital, err := decimal.NewFromString(btCapital)
	if err != nil {
		return types.BacktestRun{}, fmt.Errorf("invalid --capital %q: %w", btCapital, err)
	}

	run := types.BacktestRun{
		Symbol:         strings.ToUpper(strings.TrimSpace(btSymbol)),
		AssetType:      types.AssetType(strings.ToLower(btAssetType)),
		ShortWindow:    btShort,
		LongWindow:     btLong,
		InitialCapital: capital,
	}

	if btFrom != "" {
		if run.StartDate, err = api.ParseDate(btFrom); err != nil {
			return types.BacktestRun{}, fmt.Errorf("invalid --from %q: %w", btFrom, err)
		}
	}
	if btTo != "" {
		if run.EndDate, err = api.ParseDate(btTo); err != nil {
			return types.BacktestRun{}, fmt.Errorf("invalid --to %q: %w", btTo, err)
		}
	}

	return run, nil
}

func runRisk(cmd *cobra.Command, args []string) error {
	c, err := setup(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.service.CalculateRisk(cmd.Context(), riskPortfolio)
	if err != nil {
		return err
	}

	if riskJSON {
		return printJSON(result)
	}

	mc := result.MonteCarlo
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", result.ID)
	fmt.Fprintf(w, "Portfolio\t%s\n", result.PortfolioID)
	fmt.Fprintf(w, "VaR 95%%\t%s\n", utils.FormatPercent(result.VaR95))
	fmt.Fprintf(w, "CVaR 95%%\t%s\n", utils.FormatPercent(result.CVaR95))
	fmt.Fprintf(w, "Sharpe ratio\t%.3f\n", result.SharpeRatio)
	fmt.Fprintf(w, "Sortino ratio\t%.3f\n", result.SortinoRatio)
	fmt.Fprintf(w, "Beta\t%.3f\n", result.Beta)
	fmt.Fprintf(w, "Max drawdown\t%s\n", utils.FormatPercent(result.MaxDrawdown))
	fmt.Fprintf(w, "Monte Carlo\t%d paths x %d days: mean %.4f, p5 %.4f, p95 %.4f\n",
		mc.NumSimulations, mc.HorizonDays, mc.MeanFinalValue, mc.Percentile5, mc.Percentile95)
	return w.Flush()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
