// Package data provides file-backed storage of daily price history.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

// Store provides access to historical price data
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.PricePoint
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata contains metadata about available data for a symbol
type SymbolMetadata struct {
	Symbol    string          `json:"symbol"`
	AssetType types.AssetType `json:"assetType"`
	StartDate time.Time       `json:"startDate"`
	EndDate   time.Time       `json:"endDate"`
	BarCount  int             `json:"barCount"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewStore creates a new data store
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.PricePoint),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

func storeKey(symbol string, assetType types.AssetType) string {
	clean := strings.NewReplacer("/", "-", "\\", "-", " ", "").Replace(strings.ToUpper(symbol))
	return fmt.Sprintf("%s_%s", assetType, clean)
}

// LoadPrices returns the bars of symbol within [start, end] in timestamp
// order. A symbol with no stored history yields an empty slice.
func (s *Store) LoadPrices(ctx context.Context, symbol string, assetType types.AssetType, start, end time.Time) ([]types.PricePoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars, err := s.load(storeKey(symbol, assetType))
	if err != nil {
		return nil, err
	}

	return filterByTimeRange(bars, start, end), nil
}

func (s *Store) load(key string) ([]types.PricePoint, error) {
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	bars, err := s.readFile(key)
	if err != nil {
		return nil, err
	}
	s.cache[key] = bars
	return bars, nil
}

func (s *Store) readFile(key string) ([]types.PricePoint, error) {
	filename := filepath.Join(s.dataDir, key+".json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.PricePoint{}, nil
		}
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	var bars []types.PricePoint
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse data: %w", err)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// SavePrices merges bars into the stored history of symbol. Bars whose
// timestamp is already stored are left untouched. It returns the number of
// bars added.
func (s *Store) SavePrices(symbol string, assetType types.AssetType, bars []types.PricePoint) (int, error) {
	key := storeKey(symbol, assetType)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cache[key]
	if !ok {
		var err error
		if existing, err = s.readFile(key); err != nil {
			return 0, err
		}
	}

	seen := make(map[int64]struct{}, len(existing))
	for _, b := range existing {
		seen[b.Timestamp.UnixNano()] = struct{}{}
	}

	merged := make([]types.PricePoint, len(existing), len(existing)+len(bars))
	copy(merged, existing)
	added := 0
	for _, b := range bars {
		ts := b.Timestamp.UnixNano()
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		merged = append(merged, b)
		added++
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dataDir, key+".json"), data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[key] = merged

	if len(merged) > 0 {
		s.metadata[key] = &SymbolMetadata{
			Symbol:    symbol,
			AssetType: assetType,
			StartDate: merged[0].Timestamp,
			EndDate:   merged[len(merged)-1].Timestamp,
			BarCount:  len(merged),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.saveMetadata(); err != nil {
			s.logger.Warn("Failed to save metadata", zap.Error(err))
		}
	}

	s.logger.Debug("Saved prices",
		zap.String("symbol", symbol),
		zap.String("assetType", string(assetType)),
		zap.Int("added", added),
		zap.Int("total", len(merged)),
	)

	return added, nil
}

// GetDataRange returns the available data range for a symbol
func (s *Store) GetDataRange(symbol string, assetType types.AssetType) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[storeKey(symbol, assetType)]; ok {
		return meta.StartDate, meta.EndDate, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("no data available for %s %s", assetType, symbol)
}

// Symbols returns metadata for every stored symbol ordered by key
func (s *Store) Symbols() []SymbolMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.metadata))
	for k := range s.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]SymbolMetadata, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.metadata[k])
	}
	return out
}

// filterByTimeRange returns a copy of the bars within [start, end]. A zero
// start or end leaves that side open.
func filterByTimeRange(bars []types.PricePoint, start, end time.Time) []types.PricePoint {
	window := utils.TimeRange{Start: start, End: end}
	filtered := make([]types.PricePoint, 0, len(bars))

	for _, bar := range bars {
		if window.Contains(bar.Timestamp) {
			filtered = append(filtered, bar)
		}
	}

	return filtered
}

// loadMetadata loads symbol metadata from disk
func (s *Store) loadMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	if metadata != nil {
		s.metadata = metadata
	}

	return nil
}

// saveMetadata saves symbol metadata to disk (must hold lock)
func (s *Store) saveMetadata() error {
	filename := filepath.Join(s.dataDir, "metadata.json")

	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// ClearCache clears the in-memory cache
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]types.PricePoint)
}

// GetCacheSize returns the number of cached datasets
func (s *Store) GetCacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}
