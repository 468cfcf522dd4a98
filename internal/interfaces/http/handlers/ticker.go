package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/domain"
	"github.com/cryptoedge/marketdata/internal/repo"
	"github.com/cryptoedge/marketdata/internal/telemetry/metrics"
)

// TickerHandler serves ticker snapshot reads.
type TickerHandler struct {
	repo *repo.TickerRepo
	cfg  config.Config
}

func NewTickerHandler(r *repo.TickerRepo, cfg config.Config) *TickerHandler {
	return &TickerHandler{repo: r, cfg: cfg}
}

type tickerMeta struct {
	Cached bool  `json:"cached"`
	AgeMs  int64 `json:"age_ms"`
}

type tickerResponse struct {
	Data domain.Ticker `json:"data"`
	Meta tickerMeta    `json:"meta"`
}

// GetTicker handles GET /api/v1/ticker/{exchange}/{symbol}.
func (h *TickerHandler) GetTicker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	exchange, symbol := vars["exchange"], vars["symbol"]

	if err := domain.ValidateSymbol(symbol); err != nil {
		WriteError(w, err)
		return
	}
	if _, ok := h.cfg.Exchange(exchange); !ok {
		WriteError(w, domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", exchange),
			map[string]interface{}{"exchange": exchange}))
		return
	}

	result, err := h.repo.Find(r.Context(), exchange, symbol)
	if err != nil {
		WriteError(w, err)
		return
	}
	if result.Cached {
		metrics.CacheHits.WithLabelValues("ticker").Inc()
	}

	WriteJSON(w, http.StatusOK, tickerResponse{
		Data: *result.Ticker,
		Meta: tickerMeta{Cached: result.Cached, AgeMs: result.AgeMs},
	})
}

type tickerListError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

type tickerListResponse struct {
	Data   map[string]domain.Ticker `json:"data"`
	Errors []tickerListError        `json:"errors"`
}

// ListTickers handles GET /api/v1/tickers/{exchange}, returning a snapshot
// per configured symbol on the exchange keyed by symbol.
func (h *TickerHandler) ListTickers(w http.ResponseWriter, r *http.Request) {
	exchange := mux.Vars(r)["exchange"]
	if _, ok := h.cfg.Exchange(exchange); !ok {
		WriteError(w, domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", exchange),
			map[string]interface{}{"exchange": exchange}))
		return
	}

	symbols := h.cfg.SymbolsFor(exchange)
	results, failures := h.repo.FindAll(r.Context(), exchange, symbols)

	resp := tickerListResponse{
		Data:   make(map[string]domain.Ticker, len(results)),
		Errors: make([]tickerListError, 0, len(failures)),
	}
	for _, res := range results {
		resp.Data[res.Ticker.Symbol] = *res.Ticker
	}
	for _, f := range failures {
		resp.Errors = append(resp.Errors, tickerListError{Symbol: f.Symbol, Error: errorMessageFor(f.Err)})
	}
	WriteJSON(w, http.StatusOK, resp)
}
