package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/interfaces/http/handlers"
	"github.com/cryptoedge/marketdata/internal/telemetry/metrics"
)

// Server is the API surface: public health endpoints plus the token-guarded
// data and admin routes.
type Server struct {
	router *mux.Router
	server *http.Server
	token  string
}

// Handlers bundles the endpoint implementations the server mounts.
type Handlers struct {
	OHLCV  *handlers.OHLCVHandler
	Ticker *handlers.TickerHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// NewServer wires routes and middleware. token guards everything under
// /api/v1 and /metrics; the root and health endpoints stay open for probes.
func NewServer(addr, token string, h Handlers) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		token:  token,
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.HandleFunc("/", h.Health.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	router.Handle("/metrics", s.requireAuth(metrics.Handler())).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	// The batch route must register before the wildcard symbol route or mux
	// would route POST /ohlcv/batch into it.
	api.HandleFunc("/ohlcv/batch", h.OHLCV.BatchCandles).Methods(http.MethodPost)
	api.HandleFunc("/ohlcv/{exchange}/{symbol:.+}", h.OHLCV.GetCandles).Methods(http.MethodGet)
	api.HandleFunc("/ticker/{exchange}/{symbol:.+}", h.Ticker.GetTicker).Methods(http.MethodGet)
	api.HandleFunc("/tickers/{exchange}", h.Ticker.ListTickers).Methods(http.MethodGet)

	api.HandleFunc("/admin/gap-fill", h.Admin.GapFill).Methods(http.MethodPost)
	api.HandleFunc("/admin/gap-fill/batch", h.Admin.GapFillBatch).Methods(http.MethodPost)
	api.HandleFunc("/admin/pause", h.Admin.Pause).Methods(http.MethodPost)
	api.HandleFunc("/admin/resume", h.Admin.Resume).Methods(http.MethodPost)
	api.HandleFunc("/admin/pauses", h.Admin.Pauses).Methods(http.MethodGet)

	return s
}

// Router exposes the configured router for handler tests.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
