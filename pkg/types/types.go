// Package types provides shared type definitions for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetType represents the asset class of a symbol
type AssetType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeCrypto AssetType = "crypto"
)

// Valid reports whether the asset type is supported
func (a AssetType) Valid() bool {
	return a == AssetTypeStock || a == AssetTypeCrypto
}

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PricePoint represents one daily OHLC bar for an asset
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// ReturnPoint is a single simple return observation
type ReturnPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Return    float64   `json:"return"`
}

// Portfolio represents a named collection of assets
type Portfolio struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Asset represents a holding inside a portfolio
type Asset struct {
	ID            string          `json:"id"`
	PortfolioID   string          `json:"portfolioId"`
	Symbol        string          `json:"symbol"`
	AssetType     AssetType       `json:"assetType"`
	Name          string          `json:"name"`
	Exchange      string          `json:"exchange,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// MonteCarloSummary summarizes the terminal-value distribution of simulated paths
type MonteCarloSummary struct {
	NumSimulations int         `json:"numSimulations"`
	HorizonDays    int         `json:"horizonDays"`
	MeanFinalValue float64     `json:"meanFinalValue"`
	StdFinalValue  float64     `json:"stdFinalValue"`
	Percentile5    float64     `json:"percentile5"`
	Percentile95   float64     `json:"percentile95"`
	SamplePaths    [][]float64 `json:"samplePaths"`
}

// RiskMetricsResult is an immutable risk snapshot for a portfolio
type RiskMetricsResult struct {
	ID           string            `json:"id"`
	PortfolioID  string            `json:"portfolioId"`
	CalculatedAt time.Time         `json:"calculatedAt"`
	VaR95        float64           `json:"var95"`
	CVaR95       float64           `json:"cvar95"`
	SharpeRatio  float64           `json:"sharpeRatio"`
	SortinoRatio float64           `json:"sortinoRatio"`
	Beta         float64           `json:"beta"`
	MaxDrawdown  float64           `json:"maxDrawdown"`
	MonteCarlo   MonteCarloSummary `json:"monteCarlo"`
}

// CorrelationStatus describes the outcome of a correlation analysis
type CorrelationStatus string

const (
	CorrelationStatusOK               CorrelationStatus = "ok"
	CorrelationStatusNeedMoreAssets   CorrelationStatus = "need_more_assets"
	CorrelationStatusInsufficientData CorrelationStatus = "insufficient_data"
)

// CorrelationResult holds the cross-asset correlation matrix and diversification scores
type CorrelationResult struct {
	Status               CorrelationStatus             `json:"status"`
	Message              string                        `json:"message,omitempty"`
	Symbols              []string                      `json:"symbols,omitempty"`
	Matrix               map[string]map[string]float64 `json:"matrix,omitempty"`
	AverageCorrelation   float64                       `json:"averageCorrelation"`
	MaxCorrelation       float64                       `json:"maxCorrelation"`
	MinCorrelation       float64                       `json:"minCorrelation"`
	DiversificationScore float64                       `json:"diversificationScore"`
	Observations         int                           `json:"observations"`
}

// StressScenario is a named historical shock
type StressScenario struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Shock       float64 `json:"shock"`
}

// ScenarioOutcome is the effect of one scenario on the notional portfolio
type ScenarioOutcome struct {
	Scenario              StressScenario  `json:"scenario"`
	ValueBefore           decimal.Decimal `json:"valueBefore"`
	ValueAfter            decimal.Decimal `json:"valueAfter"`
	AbsoluteLoss          decimal.Decimal `json:"absoluteLoss"`
	LossPercent           float64         `json:"lossPercent"`
	EstimatedRecoveryDays int             `json:"estimatedRecoveryDays"`
}

// ResilienceMetrics aggregates the stress outcomes with historical behaviour
type ResilienceMetrics struct {
	WorstCaseShock   float64 `json:"worstCaseShock"`
	AverageShock     float64 `json:"averageShock"`
	AnnualVolatility float64 `json:"annualVolatility"`
	WorstDailyReturn float64 `json:"worstDailyReturn"`
	MeanDailyReturn  float64 `json:"meanDailyReturn"`
}

// StressTestResult is the full stress test report
type StressTestResult struct {
	NotionalValue  decimal.Decimal   `json:"notionalValue"`
	Scenarios      []ScenarioOutcome `json:"scenarios"`
	Resilience     ResilienceMetrics `json:"resilience"`
	Recommendation string            `json:"recommendation"`
}

// SimulatedTrade is one filled order during a backtest
type SimulatedTrade struct {
	Date       time.Time       `json:"date"`
	Side       OrderSide       `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	Value      decimal.Decimal `json:"value"`
	Commission decimal.Decimal `json:"commission"`
}

// EquityCurvePoint represents a point on the equity curve
type EquityCurvePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
}

// BacktestResult represents the immutable outcome of a backtest run
type BacktestResult struct {
	ID             string             `json:"id"`
	Run            BacktestRun        `json:"run"`
	InitialCapital decimal.Decimal    `json:"initialCapital"`
	FinalCapital   decimal.Decimal    `json:"finalCapital"`
	TotalReturn    float64            `json:"totalReturn"`
	SharpeRatio    float64            `json:"sharpeRatio"`
	MaxDrawdown    float64            `json:"maxDrawdown"`
	WinRate        float64            `json:"winRate"`
	TotalTrades    int                `json:"totalTrades"`
	WinningTrades  int                `json:"winningTrades"`
	BarsProcessed  int                `json:"barsProcessed"`
	EquityCurve    []EquityCurvePoint `json:"equityCurve"`
	Trades         []SimulatedTrade   `json:"trades"`
	CreatedAt      time.Time          `json:"createdAt"`
}
