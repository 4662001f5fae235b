package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/data"
	"github.com/tradelab/trading-backend/pkg/types"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func bars(start time.Time, closes ...int64) []types.PricePoint {
	out := make([]types.PricePoint, len(closes))
	for i, c := range closes {
		d := decimal.NewFromInt(c)
		out[i] = types.PricePoint{
			Timestamp: start.AddDate(0, 0, i),
			Open:      d,
			High:      d.Add(decimal.NewFromInt(1)),
			Low:       d.Sub(decimal.NewFromInt(1)),
			Close:     d,
			Volume:    1000,
		}
	}
	return out
}

func TestLoadPricesMissingSymbol(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	got, err := store.LoadPrices(context.Background(), "NONE", types.AssetTypeStock, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveAndLoadPrices(t *testing.T) {
	dir := t.TempDir()
	store, err := data.NewStore(zap.NewNop(), dir)
	require.NoError(t, err)

	added, err := store.SavePrices("AAPL", types.AssetTypeStock, bars(day0, 100, 101, 102, 103))
	require.NoError(t, err)
	assert.Equal(t, 4, added)

	got, err := store.LoadPrices(context.Background(), "AAPL", types.AssetTypeStock, day0.AddDate(0, 0, 1), day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(101)))
	assert.True(t, got[1].Close.Equal(decimal.NewFromInt(102)))

	// the same symbol under another asset type is a separate series
	other, err := store.LoadPrices(context.Background(), "AAPL", types.AssetTypeCrypto, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, other)

	// a fresh store reads the persisted file and metadata
	reopened, err := data.NewStore(zap.NewNop(), dir)
	require.NoError(t, err)
	all, err := reopened.LoadPrices(context.Background(), "aapl", types.AssetTypeStock, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	start, end, err := reopened.GetDataRange("AAPL", types.AssetTypeStock)
	require.NoError(t, err)
	assert.True(t, start.Equal(day0))
	assert.True(t, end.Equal(day0.AddDate(0, 0, 3)))
}

func TestSavePricesKeepsStoredBars(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	_, err = store.SavePrices("BTC/USD", types.AssetTypeCrypto, bars(day0, 40000, 41000))
	require.NoError(t, err)

	// overlapping day 1 with a different close, plus a new day 2
	added, err := store.SavePrices("BTC/USD", types.AssetTypeCrypto, bars(day0.AddDate(0, 0, 1), 99999, 42000))
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	got, err := store.LoadPrices(context.Background(), "BTC/USD", types.AssetTypeCrypto, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[1].Close.Equal(decimal.NewFromInt(41000)))
	assert.True(t, got[2].Close.Equal(decimal.NewFromInt(42000)))

	symbols := store.Symbols()
	require.Len(t, symbols, 1)
	assert.Equal(t, 3, symbols[0].BarCount)
}

func TestLoadPricesSortsOutOfOrderInput(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	input := bars(day0, 1, 2, 3)
	input[0], input[2] = input[2], input[0]
	_, err = store.SavePrices("X", types.AssetTypeStock, input)
	require.NoError(t, err)

	got, err := store.LoadPrices(context.Background(), "X", types.AssetTypeStock, time.Time{}, time.Time{})
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp))
	}
}

func TestLoadPricesHonoursContext(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.LoadPrices(ctx, "AAPL", types.AssetTypeStock, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCache(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	_, err = store.SavePrices("AAPL", types.AssetTypeStock, bars(day0, 1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, store.GetCacheSize())

	store.ClearCache()
	assert.Equal(t, 0, store.GetCacheSize())

	got, err := store.LoadPrices(context.Background(), "AAPL", types.AssetTypeStock, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, store.GetCacheSize())
}

func TestLoadPricesOpenBounds(t *testing.T) {
	store, err := data.NewStore(zap.NewNop(), t.TempDir())
	require.NoError(t, err)
	_, err = store.SavePrices("AAPL", types.AssetTypeStock, bars(day0, 100, 101, 102, 103))
	require.NoError(t, err)

	from, err := store.LoadPrices(context.Background(), "AAPL", types.AssetTypeStock, day0.AddDate(0, 0, 2), time.Time{})
	require.NoError(t, err)
	require.Len(t, from, 2)
	assert.True(t, from[0].Close.Equal(decimal.NewFromInt(102)))

	until, err := store.LoadPrices(context.Background(), "AAPL", types.AssetTypeStock, time.Time{}, day0.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, until, 2)
	assert.True(t, until[1].Close.Equal(decimal.NewFromInt(101)))
}
