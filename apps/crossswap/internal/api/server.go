package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crossswap/apps/crossswap/internal/assets"
	"crossswap/apps/crossswap/internal/chain"
	"crossswap/apps/crossswap/internal/feed"
	"crossswap/apps/crossswap/internal/relayer"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies are the components the API serves. Archive and History are
// optional and only set when a database is configured; Events enables the
// live event stream.
type Dependencies struct {
	Relayer *relayer.Relayer
	Calls   *chain.CallBuilder
	Assets  *assets.AssetRegistry
	Archive OrderArchive
	History HistoryReader
	Events  *feed.Hub
}

// Server represents the API server
type Server struct {
	orderHandler    *OrderHandler
	resolverHandler *ResolverHandler
	feedHandler     *FeedHandler
	logger          *zap.Logger
	server          *http.Server
}

// NewServer creates a new API server
func NewServer(port int, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Relayer == nil {
		return nil, errors.New("relayer is required")
	}
	if deps.Assets == nil {
		deps.Assets = assets.DefaultRegistry
	}
	if deps.Calls == nil {
		calls, err := chain.NewCallBuilder(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create call builder: %w", err)
		}
		deps.Calls = calls
	}

	s := &Server{
		orderHandler:    NewOrderHandler(deps.Relayer, deps.Calls, deps.Assets, deps.Archive, deps.History, logger),
		resolverHandler: NewResolverHandler(deps.Relayer, logger),
		feedHandler:     NewFeedHandler(deps.Relayer, deps.Events, logger),
		logger:          logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.server.Handler = s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()

	// Maker and settlement endpoints
	api.HandleFunc("/orders", s.orderHandler.CreateOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.orderHandler.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{hash}/cancel", s.orderHandler.CancelOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}/secret", s.orderHandler.RevealSecret).Methods("POST")
	api.HandleFunc("/orders/{hash}/withdraw", s.orderHandler.Withdraw).Methods("POST")
	api.HandleFunc("/orders/{hash}/escrows", s.orderHandler.GetEscrows).Methods("GET")
	api.HandleFunc("/orders/{hash}/escrows/cancel", s.orderHandler.CancelEscrow).Methods("POST")
	api.HandleFunc("/orders/{hash}/payouts", s.orderHandler.GetPayouts).Methods("GET")
	api.HandleFunc("/orders/{hash}/withdraw-tx", s.orderHandler.GetWithdrawTx).Methods("GET")
	api.HandleFunc("/orders/{hash}/history", s.orderHandler.GetHistory).Methods("GET")

	// Resolver endpoints
	api.HandleFunc("/resolvers", s.resolverHandler.RegisterResolver).Methods("POST")
	api.HandleFunc("/resolvers/{address}", s.resolverHandler.GetResolver).Methods("GET")
	api.HandleFunc("/orders/{hash}/commit", s.resolverHandler.Commit).Methods("POST")
	api.HandleFunc("/orders/{hash}/rescue", s.resolverHandler.Rescue).Methods("POST")
	api.HandleFunc("/orders/{hash}/escrows", s.resolverHandler.DeployEscrow).Methods("POST")
	api.HandleFunc("/orders/{hash}/escrows/ready", s.resolverHandler.EscrowsReady).Methods("POST")
	api.HandleFunc("/orders/{hash}/owed", s.resolverHandler.GetOwed).Methods("GET")
	api.HandleFunc("/orders/{hash}/complete", s.resolverHandler.Complete).Methods("POST")

	// Feed
	api.HandleFunc("/feed", s.feedHandler.GetFeed).Methods("GET")
	api.HandleFunc("/stats", s.feedHandler.GetStats).Methods("GET")
	api.HandleFunc("/events", s.feedHandler.StreamEvents).Methods("GET")
	api.HandleFunc("/ws", s.feedHandler.StreamWebSocket).Methods("GET")

	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
