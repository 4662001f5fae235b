// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tradelab/trading-backend/internal/analytics"
	"github.com/tradelab/trading-backend/internal/backtester"
	"github.com/tradelab/trading-backend/internal/data"
	"github.com/tradelab/trading-backend/internal/returns"
	"github.com/tradelab/trading-backend/internal/storage"
	"github.com/tradelab/trading-backend/internal/workers"
	"github.com/tradelab/trading-backend/pkg/types"
)

// Deps are the components the server routes requests to
type Deps struct {
	Service *analytics.Service
	Store   *storage.SQLiteStore
	Prices  *data.Store
	Pool    *workers.Pool
	Hub     *Hub
}

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	deps       Deps
	metrics    *Metrics
	now        func() time.Time
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, config *types.ServerConfig, deps Deps) *Server {
	server := &Server{
		logger: logger,
		config: config,
		router: mux.NewRouter(),
		deps:   deps,
		now:    func() time.Time { return time.Now().UTC() },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	server.metrics = NewMetrics(deps.Pool.QueueLength, deps.Hub.ClientCount)

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.metrics.Middleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	api.HandleFunc(s.wsPath(), s.handleWebSocket)

	NewRegistryHandlers(s.logger, s.deps.Store, s.deps.Prices, s.now).RegisterRoutes(api)
	NewAnalyticsHandlers(s.logger, s.deps, s.metrics).RegisterRoutes(api)
}

func (s *Server) wsPath() string {
	if s.config.WebSocketPath == "" {
		return "/ws"
	}
	return s.config.WebSocketPath
}

// Router returns the request router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Metrics returns the server's Prometheus collectors
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the router wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("Health check: database unavailable", zap.Error(err))
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(s.logger, w, code, map[string]interface{}{
		"status":    status,
		"time":      s.now().Unix(),
		"workers":   s.deps.Pool.Stats(),
		"wsClients": s.deps.Hub.ClientCount(),
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.deps.Hub.ServeWS(&s.upgrader, w, r)
}

// validationError marks a rejected request body or parameter
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalidf(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps a service error onto its HTTP status
func statusFor(err error) int {
	var invalid *validationError
	switch {
	case errors.As(err, &invalid),
		errors.Is(err, returns.ErrInsufficientData),
		errors.Is(err, backtester.ErrInsufficientData),
		errors.Is(err, backtester.ErrInvalidRun):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, workers.ErrTaskTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isInsufficientData(err error) bool {
	return errors.Is(err, returns.ErrInsufficientData) || errors.Is(err, backtester.ErrInsufficientData)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, message string) {
	writeJSON(logger, w, status, map[string]string{"error": message})
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and reported without detail.
func writeServiceError(logger *zap.Logger, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		writeError(logger, w, status, "internal server error")
		return
	}
	writeError(logger, w, status, err.Error())
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidf("invalid request body: %v", err)
	}
	return nil
}
