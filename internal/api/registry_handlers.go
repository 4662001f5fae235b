package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/data"
	"github.com/tradelab/trading-backend/internal/storage"
	"github.com/tradelab/trading-backend/pkg/types"
	"github.com/tradelab/trading-backend/pkg/utils"
)

// RegistryHandlers serves portfolio registration and price-history ingestion.
type RegistryHandlers struct {
	logger *zap.Logger
	store  *storage.SQLiteStore
	prices *data.Store
	now    func() time.Time
}

// NewRegistryHandlers creates new registry handlers.
func NewRegistryHandlers(logger *zap.Logger, store *storage.SQLiteStore, prices *data.Store, now func() time.Time) *RegistryHandlers {
	return &RegistryHandlers{
		logger: logger.Named("registry-api"),
		store:  store,
		prices: prices,
		now:    now,
	}
}

// RegisterRoutes registers the portfolio and data routes.
func (h *RegistryHandlers) RegisterRoutes(r *mux.Router) {
	// Portfolio Endpoints
	r.HandleFunc("/portfolios", h.CreatePortfolio).Methods("POST")
	r.HandleFunc("/portfolios/{id}", h.GetPortfolio).Methods("GET")
	r.HandleFunc("/portfolios/{id}/assets", h.AddAsset).Methods("POST")

	// Price Data Endpoints
	r.HandleFunc("/data/prices", h.IngestPrices).Methods("POST")
	r.HandleFunc("/data/symbols", h.ListSymbols).Methods("GET")
	r.HandleFunc("/data/history/{assetType}/{symbol}", h.GetHistory).Methods("GET")
	r.HandleFunc("/data/quality/{assetType}/{symbol}", h.GetQuality).Methods("GET")
}

// ==================== Portfolio Endpoints ====================

// CreatePortfolioRequest represents a portfolio creation request.
type CreatePortfolioRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreatePortfolio registers a new empty portfolio.
func (h *RegistryHandlers) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(h.logger, w, http.StatusBadRequest, "name is required")
		return
	}

	portfolio := types.Portfolio{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CreatedAt:   h.now(),
	}
	if err := h.store.CreatePortfolio(r.Context(), portfolio); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusCreated, portfolio)
}

// PortfolioResponse is a portfolio with its holdings.
type PortfolioResponse struct {
	types.Portfolio
	Assets []types.Asset `json:"assets"`
}

// GetPortfolio returns a portfolio and its assets.
func (h *RegistryHandlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	portfolio, err := h.store.GetPortfolio(r.Context(), id)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	assets, err := h.store.ListAssets(r.Context(), id)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if assets == nil {
		assets = []types.Asset{}
	}

	writeJSON(h.logger, w, http.StatusOK, PortfolioResponse{Portfolio: portfolio, Assets: assets})
}

// AddAssetRequest represents a request to add a holding to a portfolio.
type AddAssetRequest struct {
	Symbol        string          `json:"symbol"`
	AssetType     types.AssetType `json:"assetType"`
	Name          string          `json:"name,omitempty"`
	Exchange      string          `json:"exchange,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
}

func (req AddAssetRequest) validate() error {
	if strings.TrimSpace(req.Symbol) == "" {
		return invalidf("symbol is required")
	}
	if !req.AssetType.Valid() {
		return invalidf("assetType must be one of stock, crypto")
	}
	if req.Quantity.IsNegative() || req.PurchasePrice.IsNegative() {
		return invalidf("quantity and purchasePrice must not be negative")
	}
	return nil
}

// AddAsset adds a holding to an existing portfolio.
func (h *RegistryHandlers) AddAsset(w http.ResponseWriter, r *http.Request) {
	var req AddAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	asset := types.Asset{
		ID:            uuid.New().String(),
		PortfolioID:   mux.Vars(r)["id"],
		Symbol:        strings.ToUpper(strings.TrimSpace(req.Symbol)),
		AssetType:     req.AssetType,
		Name:          req.Name,
		Exchange:      req.Exchange,
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		CreatedAt:     h.now(),
	}
	if err := h.store.AddAsset(r.Context(), asset); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusCreated, asset)
}

// ==================== Price Data Endpoints ====================

// IngestPricesRequest carries daily bars for one symbol.
type IngestPricesRequest struct {
	Symbol    string             `json:"symbol"`
	AssetType types.AssetType    `json:"assetType"`
	Bars      []types.PricePoint `json:"bars"`
}

// IngestPrices stores new bars. Bars whose timestamp is already stored are ignored.
func (h *RegistryHandlers) IngestPrices(w http.ResponseWriter, r *http.Request) {
	var req IngestPricesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || !req.AssetType.Valid() {
		writeError(h.logger, w, http.StatusBadRequest, "symbol and a valid assetType are required")
		return
	}
	if len(req.Bars) == 0 {
		writeError(h.logger, w, http.StatusBadRequest, "bars must not be empty")
		return
	}
	for i, bar := range req.Bars {
		if bar.Timestamp.IsZero() {
			writeError(h.logger, w, http.StatusBadRequest, "bar "+strconv.Itoa(i)+" has no timestamp")
			return
		}
	}

	added, err := h.prices.SavePrices(req.Symbol, req.AssetType, req.Bars)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"symbol":    strings.ToUpper(req.Symbol),
		"assetType": req.AssetType,
		"received":  len(req.Bars),
		"added":     added,
	})
}

// ListSymbols returns the metadata of every stored symbol.
func (h *RegistryHandlers) ListSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"symbols": h.prices.Symbols(),
	})
}

// GetHistory returns stored bars for a symbol, optionally bounded by the
// start and end query parameters (RFC3339 or YYYY-MM-DD). Instead of start,
// range (e.g. "30d", "12w", "1y") selects a lookback ending at end or now.
func (h *RegistryHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetType := types.AssetType(vars["assetType"])
	if !assetType.Valid() {
		writeError(h.logger, w, http.StatusBadRequest, "assetType must be one of stock, crypto")
		return
	}

	start, err := parseDateParam(r, "start")
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}
	end, err := parseDateParam(r, "end")
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	if raw := r.URL.Query().Get("range"); raw != "" {
		if !start.IsZero() {
			writeError(h.logger, w, http.StatusBadRequest, "start and range cannot be combined")
			return
		}
		lookback, err := utils.ParseTimeRange(raw)
		if err != nil {
			writeError(h.logger, w, http.StatusBadRequest, err.Error())
			return
		}
		anchor := end
		if anchor.IsZero() {
			anchor = h.now()
		}
		start = anchor.Add(-lookback)
	}

	bars, err := h.prices.LoadPrices(r.Context(), vars["symbol"], assetType, start, end)
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"symbol":    strings.ToUpper(vars["symbol"]),
		"assetType": assetType,
		"bars":      bars,
		"count":     len(bars),
	})
}

// GetQuality reports gaps, invalid closes and other defects in a symbol's
// stored history.
func (h *RegistryHandlers) GetQuality(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assetType := types.AssetType(vars["assetType"])
	if !assetType.Valid() {
		writeError(h.logger, w, http.StatusBadRequest, "assetType must be one of stock, crypto")
		return
	}

	bars, err := h.prices.LoadPrices(r.Context(), vars["symbol"], assetType, time.Time{}, time.Time{})
	if err != nil {
		writeServiceError(h.logger, w, err)
		return
	}

	symbol := strings.ToUpper(vars["symbol"])
	report := data.NewQualityValidator(h.logger, assetType).Validate(symbol, assetType, bars)
	writeJSON(h.logger, w, http.StatusOK, report)
}

// ParseDate accepts RFC3339 timestamps and YYYY-MM-DD dates (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, invalidf("invalid %s: %q", name, raw)
	}
	return t, nil
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidf("invalid limit: %q", raw)
	}
	return n, nil
}
