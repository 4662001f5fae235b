package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/types"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	store, err := OpenSQLite(zap.NewNop(), filepath.Join(t.TempDir(), "tradelab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func createPortfolio(t *testing.T, store *SQLiteStore, id string) {
	require.NoError(t, store.CreatePortfolio(context.Background(), types.Portfolio{
		ID:          id,
		Name:        "Growth",
		Description: "tech heavy",
		CreatedAt:   created,
	}))
}

func TestPortfolioRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createPortfolio(t, store, "p1")

	p, err := store.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Growth", p.Name)
	assert.Equal(t, "tech heavy", p.Description)
	assert.True(t, p.CreatedAt.Equal(created))

	_, err = store.GetPortfolio(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.CreatePortfolio(ctx, types.Portfolio{ID: "p1", Name: "dup", CreatedAt: created})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAssets(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createPortfolio(t, store, "p1")

	asset := types.Asset{
		ID:            "a1",
		PortfolioID:   "p1",
		Symbol:        "AAPL",
		AssetType:     types.AssetTypeStock,
		Name:          "Apple",
		Exchange:      "NASDAQ",
		Quantity:      decimal.RequireFromString("10.5"),
		PurchasePrice: decimal.RequireFromString("182.31"),
		CreatedAt:     created,
	}
	require.NoError(t, store.AddAsset(ctx, asset))
	require.NoError(t, store.AddAsset(ctx, types.Asset{
		ID: "a2", PortfolioID: "p1", Symbol: "BTC", AssetType: types.AssetTypeCrypto,
		Quantity: decimal.NewFromInt(1), PurchasePrice: decimal.NewFromInt(40000), CreatedAt: created.Add(time.Minute),
	}))

	err := store.AddAsset(ctx, types.Asset{ID: "a3", PortfolioID: "p1", Symbol: "AAPL", AssetType: types.AssetTypeStock, CreatedAt: created})
	assert.ErrorIs(t, err, ErrConflict)

	err = store.AddAsset(ctx, types.Asset{ID: "a4", PortfolioID: "nope", Symbol: "MSFT", AssetType: types.AssetTypeStock, CreatedAt: created})
	assert.ErrorIs(t, err, ErrNotFound)

	assets, err := store.ListAssets(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, "AAPL", assets[0].Symbol)
	assert.True(t, assets[0].Quantity.Equal(asset.Quantity))
	assert.True(t, assets[0].PurchasePrice.Equal(asset.PurchasePrice))
	assert.Equal(t, types.AssetTypeCrypto, assets[1].AssetType)

	empty, err := store.ListAssets(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRiskMetricsAppendOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createPortfolio(t, store, "p1")

	_, err := store.LatestRiskMetrics(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveRiskMetrics(ctx, types.RiskMetricsResult{
			ID:           string(rune('a' + i)),
			PortfolioID:  "p1",
			CalculatedAt: created.Add(time.Duration(i) * time.Hour),
			VaR95:        -0.01 * float64(i+1),
			MonteCarlo: types.MonteCarloSummary{
				NumSimulations: 1000,
				Percentile5:    0.9,
				SamplePaths:    [][]float64{{1.0, 1.01}},
			},
		}))
	}

	all, err := store.ListRiskMetrics(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[2].ID)

	latest, err := store.LatestRiskMetrics(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
	assert.InDelta(t, -0.03, latest.VaR95, 1e-12)
	assert.Equal(t, 1000, latest.MonteCarlo.NumSimulations)
	assert.Equal(t, [][]float64{{1.0, 1.01}}, latest.MonteCarlo.SamplePaths)

	err = store.SaveRiskMetrics(ctx, types.RiskMetricsResult{ID: "a", PortfolioID: "p1", CalculatedAt: created})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBacktestResults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	result := types.BacktestResult{
		ID: "bt1",
		Run: types.BacktestRun{
			Symbol:         "AAPL",
			AssetType:      types.AssetTypeStock,
			ShortWindow:    5,
			LongWindow:     20,
			InitialCapital: decimal.NewFromInt(10000),
		},
		InitialCapital: decimal.NewFromInt(10000),
		FinalCapital:   decimal.RequireFromString("10012.5"),
		TotalReturn:    0.00125,
		TotalTrades:    1,
		WinRate:        1,
		EquityCurve: []types.EquityCurvePoint{
			{Timestamp: created, Equity: decimal.NewFromInt(10000), Cash: decimal.NewFromInt(10000)},
		},
		Trades: []types.SimulatedTrade{
			{Date: created, Side: types.OrderSideBuy, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)},
		},
		CreatedAt: created,
	}
	require.NoError(t, store.SaveBacktestResult(ctx, result))

	second := result
	second.ID = "bt2"
	second.CreatedAt = created.Add(time.Hour)
	require.NoError(t, store.SaveBacktestResult(ctx, second))

	got, err := store.GetBacktestResult(ctx, "bt1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Run.Symbol)
	assert.True(t, got.FinalCapital.Equal(result.FinalCapital))
	require.Len(t, got.Trades, 1)
	assert.Equal(t, types.OrderSideBuy, got.Trades[0].Side)
	require.Len(t, got.EquityCurve, 1)

	_, err = store.GetBacktestResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := store.ListBacktestResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bt2", list[0].ID)
	assert.Equal(t, 20, list[0].LongWindow)
	assert.True(t, list[1].FinalCapital.Equal(result.FinalCapital))

	limited, err := store.ListBacktestResults(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.ErrorIs(t, store.SaveBacktestResult(ctx, result), ErrConflict)
}

func TestUniqueViolationUsesDriverCode(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed: portfolios.id")))

	store := setupTestStore(t)
	ctx := context.Background()
	createPortfolio(t, store, "p1")

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO portfolios(id, name, description, created_at) VALUES(?, ?, ?, ?)`,
		"p1", "dup", "", formatTime(created))
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", err)))

	_, err = store.db.ExecContext(ctx, `INSERT INTO portfolios(id) VALUES(?)`, "p2")
	require.Error(t, err)
	assert.False(t, isUniqueViolation(err))
}

func TestTimestampsSortAcrossFractionalSeconds(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createPortfolio(t, store, "p1")

	base := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	for _, snap := range []struct {
		id string
		at time.Time
	}{
		{"half", base.Add(500 * time.Millisecond)},
		{"whole", base},
		{"later", base.Add(time.Second)},
	} {
		require.NoError(t, store.SaveRiskMetrics(ctx, types.RiskMetricsResult{ID: snap.id, PortfolioID: "p1", CalculatedAt: snap.at}))
	}

	all, err := store.ListRiskMetrics(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"later", "half", "whole"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.True(t, all[1].CalculatedAt.Equal(base.Add(500*time.Millisecond)))

	latest, err := store.LatestRiskMetrics(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "later", latest.ID)

	assert.Equal(t, "2024-05-01T12:00:05.000000000Z", formatTime(base))
	assert.Equal(t, "2024-05-01T12:00:05.500000000Z", formatTime(base.Add(500*time.Millisecond)))
}
