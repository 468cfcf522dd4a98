package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/domain"
	"github.com/cryptoedge/marketdata/internal/repo"
	"github.com/cryptoedge/marketdata/internal/telemetry/metrics"
)

const (
	maxRangeMs   = int64(30) * 86_400_000
	maxBatchSize = 20
	batchLimit   = 1000
)

// OHLCVHandler serves candle reads.
type OHLCVHandler struct {
	repo *repo.CandleRepo
	cfg  config.Config
}

func NewOHLCVHandler(r *repo.CandleRepo, cfg config.Config) *OHLCVHandler {
	return &OHLCVHandler{repo: r, cfg: cfg}
}

type candleMeta struct {
	Cached  bool  `json:"cached"`
	QueryMs int64 `json:"query_ms"`
}

type candlePagination struct {
	NextCursor *string `json:"next_cursor"`
}

type candlesResponse struct {
	Data       []domain.Candle  `json:"data"`
	Pagination candlePagination `json:"pagination"`
	Meta       candleMeta       `json:"meta"`
}

// candleQuery is a validated read request for one series.
type candleQuery struct {
	Exchange string
	Symbol   string
	Interval string
	Start    *int64
	End      *int64
	Cursor   *int64
	Limit    int
}

// GetCandles handles GET /api/v1/ohlcv/{exchange}/{symbol}.
func (h *OHLCVHandler) GetCandles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q, err := h.parseQuery(vars["exchange"], vars["symbol"], r.URL.Query().Get("interval"),
		r.URL.Query().Get("start"), r.URL.Query().Get("end"),
		r.URL.Query().Get("cursor"), r.URL.Query().Get("limit"))
	if err != nil {
		WriteError(w, err)
		return
	}

	started := time.Now()
	result, err := h.repo.Find(r.Context(), q.Exchange, q.Symbol, q.Interval, q.Start, q.End, q.Cursor, q.Limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	if result.Cached {
		metrics.CacheHits.WithLabelValues("ohlcv").Inc()
	}

	resp := candlesResponse{
		Data: result.Records,
		Meta: candleMeta{Cached: result.Cached, QueryMs: time.Since(started).Milliseconds()},
	}
	if result.NextCursor != nil {
		cursor := strconv.FormatInt(*result.NextCursor, 10)
		resp.Pagination.NextCursor = &cursor
	}
	if resp.Data == nil {
		resp.Data = []domain.Candle{}
	}
	WriteJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	Exchange string   `json:"exchange"`
	Symbols  []string `json:"symbols"`
	Interval string   `json:"interval"`
	Start    *int64   `json:"start"`
	End      *int64   `json:"end"`
}

type batchError struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

type batchResponse struct {
	Data   map[string][]domain.Candle `json:"data"`
	Errors []batchError               `json:"errors"`
	Meta   candleMeta                 `json:"meta"`
}

// BatchCandles handles POST /api/v1/ohlcv/batch. Each symbol resolves
// independently; failures land in the errors map without sinking the batch.
func (h *OHLCVHandler) BatchCandles(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation, "invalid request body", nil))
		return
	}
	if len(req.Symbols) == 0 {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation, "symbols must not be empty", nil))
		return
	}
	if len(req.Symbols) > maxBatchSize {
		WriteError(w, domain.NewClientError(domain.ErrCodeBatchSizeExceeded,
			fmt.Sprintf("batch size %d exceeds maximum of %d", len(req.Symbols), maxBatchSize),
			map[string]interface{}{"max": maxBatchSize}))
		return
	}

	started := time.Now()
	resp := batchResponse{
		Data:   make(map[string][]domain.Candle, len(req.Symbols)),
		Errors: []batchError{},
	}

	var startStr, endStr string
	if req.Start != nil {
		startStr = strconv.FormatInt(*req.Start, 10)
	}
	if req.End != nil {
		endStr = strconv.FormatInt(*req.End, 10)
	}

	for _, symbol := range req.Symbols {
		q, err := h.parseQuery(req.Exchange, symbol, req.Interval, startStr, endStr, "", strconv.Itoa(batchLimit))
		if err != nil {
			resp.Errors = append(resp.Errors, batchError{Symbol: symbol, Error: errorMessageFor(err)})
			continue
		}
		// Batch reads always hit the store; the cache cannot prove a
		// thousand-row page complete.
		result, err := h.repo.Find(r.Context(), q.Exchange, q.Symbol, q.Interval, q.Start, q.End, nil, batchLimit)
		if err != nil {
			resp.Errors = append(resp.Errors, batchError{Symbol: symbol, Error: errorMessageFor(err)})
			continue
		}
		records := result.Records
		if records == nil {
			records = []domain.Candle{}
		}
		resp.Data[symbol] = records
	}

	resp.Meta.QueryMs = time.Since(started).Milliseconds()
	WriteJSON(w, http.StatusOK, resp)
}

// parseQuery validates every request dimension and normalizes it into a
// candleQuery. All failures are client errors with specific codes.
func (h *OHLCVHandler) parseQuery(exchange, symbol, interval, startStr, endStr, cursorStr, limitStr string) (candleQuery, error) {
	q := candleQuery{Exchange: exchange, Symbol: symbol, Interval: interval}

	if err := domain.ValidateSymbol(symbol); err != nil {
		return q, err
	}
	if interval == "" || !domain.ValidInterval(interval) {
		return q, domain.NewClientError(domain.ErrCodeInvalidTimeframe,
			fmt.Sprintf("unknown interval %q", interval),
			map[string]interface{}{"valid": domain.Intervals()})
	}
	if _, ok := h.cfg.Exchange(exchange); !ok {
		return q, domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", exchange),
			map[string]interface{}{"exchange": exchange})
	}

	var err error
	if q.Start, err = parseMillis(startStr, "start"); err != nil {
		return q, err
	}
	if q.End, err = parseMillis(endStr, "end"); err != nil {
		return q, err
	}
	if q.Start != nil && q.End != nil {
		if *q.End < *q.Start {
			return q, domain.NewClientError(domain.ErrCodeInvalidTimeRange,
				"end must not precede start", nil)
		}
		if *q.End-*q.Start > maxRangeMs {
			return q, domain.NewClientError(domain.ErrCodeInvalidTimeRange,
				"time range exceeds the 30 day maximum", nil)
		}
	}

	if cursorStr != "" {
		cursor, err := strconv.ParseInt(cursorStr, 10, 64)
		if err != nil {
			return q, domain.NewClientError(domain.ErrCodeValidation,
				fmt.Sprintf("invalid cursor %q", cursorStr), nil)
		}
		q.Cursor = &cursor
	}

	if limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return q, domain.NewClientError(domain.ErrCodeValidation,
				fmt.Sprintf("invalid limit %q", limitStr), nil)
		}
		q.Limit = limit
	}
	return q, nil
}

func parseMillis(s, field string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return nil, domain.NewClientError(domain.ErrCodeValidation,
			fmt.Sprintf("invalid %s %q", field, s), nil)
	}
	return &v, nil
}
