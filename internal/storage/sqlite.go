// Package storage persists portfolios, risk snapshots and backtest results in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/types"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a record would duplicate an existing one
	ErrConflict = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
	symbol TEXT NOT NULL,
	asset_type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	exchange TEXT NOT NULL DEFAULT '',
	quantity TEXT NOT NULL,
	purchase_price TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (portfolio_id, symbol, asset_type)
);

CREATE TABLE IF NOT EXISTS risk_metrics (
	id TEXT PRIMARY KEY,
	portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
	calculated_at TEXT NOT NULL,
	var_95 REAL NOT NULL,
	cvar_95 REAL NOT NULL,
	sharpe_ratio REAL NOT NULL,
	sortino_ratio REAL NOT NULL,
	beta REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	monte_carlo TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_metrics_portfolio ON risk_metrics(portfolio_id, calculated_at DESC);

CREATE TABLE IF NOT EXISTS backtest_results (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	asset_type TEXT NOT NULL,
	short_window INTEGER NOT NULL,
	long_window INTEGER NOT NULL,
	initial_capital TEXT NOT NULL,
	final_capital TEXT NOT NULL,
	total_return REAL NOT NULL,
	sharpe_ratio REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	win_rate REAL NOT NULL,
	total_trades INTEGER NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backtest_results_created ON backtest_results(created_at DESC);
`

// SQLiteStore is the SQLite-backed results repository and portfolio registry
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema
func OpenSQLite(logger *zap.Logger, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// sqlite allows a single writer; an in-memory database also lives on one connection
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store opened", zap.String("path", path))
	return store, nil
}

// InitSchema creates the tables if they do not exist
func (s *SQLiteStore) InitSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// timeLayout keeps nanoseconds at a fixed width so stored timestamps sort
// chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// CreatePortfolio inserts a new portfolio
func (s *SQLiteStore) CreatePortfolio(ctx context.Context, p types.Portfolio) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portfolios(id, name, description, created_at) VALUES(?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, formatTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("portfolio %s: %w", p.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}
	return nil
}

// GetPortfolio returns the portfolio with the given ID
func (s *SQLiteStore) GetPortfolio(ctx context.Context, id string) (types.Portfolio, error) {
	var p types.Portfolio
	var created string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM portfolios WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Portfolio{}, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Portfolio{}, fmt.Errorf("failed to query portfolio: %w", err)
	}

	if p.CreatedAt, err = parseTime(created); err != nil {
		return types.Portfolio{}, fmt.Errorf("failed to parse portfolio timestamp: %w", err)
	}
	return p, nil
}

// AddAsset adds an asset to an existing portfolio
func (s *SQLiteStore) AddAsset(ctx context.Context, a types.Asset) error {
	if _, err := s.GetPortfolio(ctx, a.PortfolioID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assets(id, portfolio_id, symbol, asset_type, name, exchange, quantity, purchase_price, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PortfolioID, a.Symbol, string(a.AssetType), a.Name, a.Exchange,
		a.Quantity.String(), a.PurchasePrice.String(), formatTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("asset %s %s: %w", a.AssetType, a.Symbol, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// ListAssets returns the assets of a portfolio in insertion order
func (s *SQLiteStore) ListAssets(ctx context.Context, portfolioID string) ([]types.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, portfolio_id, symbol, asset_type, name, exchange, quantity, purchase_price, created_at
		 FROM assets WHERE portfolio_id = ? ORDER BY created_at ASC, rowid ASC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := make([]types.Asset, 0)
	for rows.Next() {
		var a types.Asset
		var assetType, quantity, price, created string
		if err := rows.Scan(&a.ID, &a.PortfolioID, &a.Symbol, &assetType, &a.Name, &a.Exchange, &quantity, &price, &created); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.AssetType = types.AssetType(assetType)
		if a.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid quantity for asset %s: %w", a.ID, err)
		}
		if a.PurchasePrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid purchase price for asset %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("invalid timestamp for asset %s: %w", a.ID, err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// SaveRiskMetrics appends a risk snapshot. Snapshots are never updated.
func (s *SQLiteStore) SaveRiskMetrics(ctx context.Context, r types.RiskMetricsResult) error {
	mc, err := json.Marshal(r.MonteCarlo)
	if err != nil {
		return fmt.Errorf("failed to marshal monte carlo summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO risk_metrics(id, portfolio_id, calculated_at, var_95, cvar_95, sharpe_ratio, sortino_ratio, beta, max_drawdown, monte_carlo)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PortfolioID, formatTime(r.CalculatedAt),
		r.VaR95, r.CVaR95, r.SharpeRatio, r.SortinoRatio, r.Beta, r.MaxDrawdown, string(mc))
	if isUniqueViolation(err) {
		return fmt.Errorf("risk snapshot %s: %w", r.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert risk metrics: %w", err)
	}
	return nil
}

// ListRiskMetrics returns up to limit snapshots of a portfolio, newest first.
// A limit <= 0 returns all of them.
func (s *SQLiteStore) ListRiskMetrics(ctx context.Context, portfolioID string, limit int) ([]types.RiskMetricsResult, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, portfolio_id, calculated_at, var_95, cvar_95, sharpe_ratio, sortino_ratio, beta, max_drawdown, monte_carlo
		 FROM risk_metrics WHERE portfolio_id = ? ORDER BY calculated_at DESC, rowid DESC LIMIT ?`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk metrics: %w", err)
	}
	defer rows.Close()

	results := make([]types.RiskMetricsResult, 0)
	for rows.Next() {
		var r types.RiskMetricsResult
		var calculated, mc string
		if err := rows.Scan(&r.ID, &r.PortfolioID, &calculated, &r.VaR95, &r.CVaR95,
			&r.SharpeRatio, &r.SortinoRatio, &r.Beta, &r.MaxDrawdown, &mc); err != nil {
			return nil, fmt.Errorf("failed to scan risk metrics: %w", err)
		}
		if r.CalculatedAt, err = parseTime(calculated); err != nil {
			return nil, fmt.Errorf("invalid timestamp for risk snapshot %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(mc), &r.MonteCarlo); err != nil {
			return nil, fmt.Errorf("invalid monte carlo summary for risk snapshot %s: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LatestRiskMetrics returns the most recent snapshot of a portfolio
func (s *SQLiteStore) LatestRiskMetrics(ctx context.Context, portfolioID string) (types.RiskMetricsResult, error) {
	results, err := s.ListRiskMetrics(ctx, portfolioID, 1)
	if err != nil {
		return types.RiskMetricsResult{}, err
	}
	if len(results) == 0 {
		return types.RiskMetricsResult{}, fmt.Errorf("risk metrics for portfolio %s: %w", portfolioID, ErrNotFound)
	}
	return results[0], nil
}

// SaveBacktestResult stores a completed backtest. Results are immutable.
func (s *SQLiteStore) SaveBacktestResult(ctx context.Context, r types.BacktestResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal backtest result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backtest_results(id, symbol, asset_type, short_window, long_window, initial_capital, final_capital,
		 total_return, sharpe_ratio, max_drawdown, win_rate, total_trades, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Run.Symbol, string(r.Run.AssetType), r.Run.ShortWindow, r.Run.LongWindow,
		r.InitialCapital.String(), r.FinalCapital.String(),
		r.TotalReturn, r.SharpeRatio, r.MaxDrawdown, r.WinRate, r.TotalTrades,
		string(payload), formatTime(r.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("backtest result %s: %w", r.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}
	return nil
}

// GetBacktestResult returns a stored backtest result by ID
func (s *SQLiteStore) GetBacktestResult(ctx context.Context, id string) (types.BacktestResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM backtest_results WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BacktestResult{}, fmt.Errorf("backtest result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.BacktestResult{}, fmt.Errorf("failed to query backtest result: %w", err)
	}

	var r types.BacktestResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return types.BacktestResult{}, fmt.Errorf("invalid backtest payload %s: %w", id, err)
	}
	return r, nil
}

// BacktestSummary is the list view of a stored backtest result
type BacktestSummary struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	AssetType      types.AssetType `json:"assetType"`
	ShortWindow    int             `json:"shortWindow"`
	LongWindow     int             `json:"longWindow"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	FinalCapital   decimal.Decimal `json:"finalCapital"`
	TotalReturn    float64         `json:"totalReturn"`
	SharpeRatio    float64         `json:"sharpeRatio"`
	MaxDrawdown    float64         `json:"maxDrawdown"`
	WinRate        float64         `json:"winRate"`
	TotalTrades    int             `json:"totalTrades"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ListBacktestResults returns up to limit result summaries, newest first.
// A limit <= 0 returns all of them.
func (s *SQLiteStore) ListBacktestResults(ctx context.Context, limit int) ([]BacktestSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, asset_type, short_window, long_window, initial_capital, final_capital,
		 total_return, sharpe_ratio, max_drawdown, win_rate, total_trades, created_at
		 FROM backtest_results ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	out := make([]BacktestSummary, 0)
	for rows.Next() {
		var b BacktestSummary
		var assetType, initial, final, created string
		if err := rows.Scan(&b.ID, &b.Symbol, &assetType, &b.ShortWindow, &b.LongWindow, &initial, &final,
			&b.TotalReturn, &b.SharpeRatio, &b.MaxDrawdown, &b.WinRate, &b.TotalTrades, &created); err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		b.AssetType = types.AssetType(assetType)
		if b.InitialCapital, err = decimal.NewFromString(initial); err != nil {
			return nil, fmt.Errorf("invalid initial capital for %s: %w", b.ID, err)
		}
		if b.FinalCapital, err = decimal.NewFromString(final); err != nil {
			return nil, fmt.Errorf("invalid final capital for %s: %w", b.ID, err)
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("invalid timestamp for %s: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
