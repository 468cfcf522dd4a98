package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/collector"
	"github.com/cryptoedge/marketdata/internal/config"
	"github.com/cryptoedge/marketdata/internal/domain"
)

const defaultGapFillDays = 30

// Collector is the scheduler surface the admin endpoints drive.
type Collector interface {
	EnqueueGapFill(task collector.GapFillTask) bool
	Gate() *collector.PauseGate
}

// AdminHandler exposes operational triggers: on-demand gap-fills and manual
// pause control.
type AdminHandler struct {
	collector Collector
	cfg       config.Config
}

func NewAdminHandler(c Collector, cfg config.Config) *AdminHandler {
	return &AdminHandler{collector: c, cfg: cfg}
}

type gapFillRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Days     int    `json:"days"`
}

type gapFillResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Days     int    `json:"days"`
}

// GapFill handles POST /api/v1/admin/gap-fill, queueing one reconciliation
// task.
func (h *AdminHandler) GapFill(w http.ResponseWriter, r *http.Request) {
	var req gapFillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation, "invalid request body", nil))
		return
	}
	if req.Days == 0 {
		req.Days = defaultGapFillDays
	}
	if err := h.validateTask(req.Exchange, req.Symbol, req.Interval, req.Days); err != nil {
		WriteError(w, err)
		return
	}

	task := collector.GapFillTask{
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Days:     req.Days,
	}
	if !h.collector.EnqueueGapFill(task) {
		WriteError(w, domain.NewServerError(domain.ErrCodeInternal,
			"gap-fill queue is full, try again later", nil))
		return
	}

	WriteJSON(w, http.StatusAccepted, gapFillResponse{
		Status:   "queued",
		Message:  fmt.Sprintf("gap-fill queued for %s", task.String()),
		Exchange: req.Exchange,
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Days:     req.Days,
	})
}

type gapFillBatchRequest struct {
	Exchanges []string `json:"exchanges"`
	Intervals []string `json:"intervals"`
	Days      int      `json:"days"`
}

type gapFillBatchResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	TotalTasks int    `json:"total_tasks"`
}

// GapFillBatch handles POST /api/v1/admin/gap-fill/batch, enqueueing the
// cross-product of exchanges, their configured symbols, and intervals.
// Exchanges and intervals default to the configured sets; entries that fail
// validation are skipped with a log line rather than failing the batch.
func (h *AdminHandler) GapFillBatch(w http.ResponseWriter, r *http.Request) {
	var req gapFillBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation, "invalid request body", nil))
		return
	}
	if req.Days == 0 {
		req.Days = defaultGapFillDays
	}
	if req.Days < 1 || req.Days > 365 {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation,
			fmt.Sprintf("days must be in [1, 365], got %d", req.Days), nil))
		return
	}

	exchanges := req.Exchanges
	if len(exchanges) == 0 {
		for _, ex := range h.cfg.Exchanges {
			exchanges = append(exchanges, ex.ID)
		}
	} else {
		for _, id := range exchanges {
			if _, ok := h.cfg.Exchange(id); !ok {
				WriteError(w, domain.NewClientError(domain.ErrCodeInvalidExchange,
					fmt.Sprintf("exchange %s is not configured", id), nil))
				return
			}
		}
	}
	intervals := req.Intervals
	if len(intervals) == 0 {
		intervals = h.cfg.Intervals
	}

	queued := 0
	for _, exchange := range exchanges {
		for _, symbol := range h.cfg.SymbolsFor(exchange) {
			for _, interval := range intervals {
				if err := h.validateTask(exchange, symbol, interval, req.Days); err != nil {
					log.Warn().Err(err).Str("exchange", exchange).Str("symbol", symbol).
						Str("interval", interval).Msg("skipping invalid gap-fill task")
					continue
				}
				if h.collector.EnqueueGapFill(collector.GapFillTask{
					Exchange: exchange,
					Symbol:   symbol,
					Interval: interval,
					Days:     req.Days,
				}) {
					queued++
				}
			}
		}
	}

	WriteJSON(w, http.StatusAccepted, gapFillBatchResponse{
		Status:     "queued",
		Message:    fmt.Sprintf("queued %d gap-fill tasks", queued),
		TotalTasks: queued,
	})
}

type pauseRequest struct {
	Exchange string `json:"exchange"`
	Seconds  int    `json:"seconds"`
}

type pauseResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Exchange string `json:"exchange"`
}

// Pause handles POST /api/v1/admin/pause, manually suspending collection for
// an exchange.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation, "invalid request body", nil))
		return
	}
	if _, ok := h.cfg.Exchange(req.Exchange); !ok {
		WriteError(w, domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", req.Exchange), nil))
		return
	}
	if req.Seconds < 1 {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation,
			"seconds must be >= 1", nil))
		return
	}

	d := time.Duration(req.Seconds) * time.Second
	h.collector.Gate().Pause(req.Exchange, d)
	WriteJSON(w, http.StatusOK, pauseResponse{
		Status:   "paused",
		Message:  fmt.Sprintf("collection paused for %s for %s", req.Exchange, d),
		Exchange: req.Exchange,
	})
}

// Resume handles POST /api/v1/admin/resume, lifting a pause immediately.
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, domain.NewClientError(domain.ErrCodeValidation, "invalid request body", nil))
		return
	}
	if _, ok := h.cfg.Exchange(req.Exchange); !ok {
		WriteError(w, domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", req.Exchange), nil))
		return
	}

	h.collector.Gate().Resume(req.Exchange)
	WriteJSON(w, http.StatusOK, pauseResponse{
		Status:   "resumed",
		Message:  fmt.Sprintf("collection resumed for %s", req.Exchange),
		Exchange: req.Exchange,
	})
}

type pausesResponse struct {
	Paused map[string]time.Time `json:"paused"`
}

// Pauses handles GET /api/v1/admin/pauses, listing active suspensions and
// their deadlines.
func (h *AdminHandler) Pauses(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, pausesResponse{Paused: h.collector.Gate().Snapshot()})
}

func (h *AdminHandler) validateTask(exchange, symbol, interval string, days int) error {
	if days < 1 || days > 365 {
		return domain.NewClientError(domain.ErrCodeValidation,
			fmt.Sprintf("days must be in [1, 365], got %d", days), nil)
	}
	if _, ok := h.cfg.Exchange(exchange); !ok {
		return domain.NewClientError(domain.ErrCodeInvalidExchange,
			fmt.Sprintf("exchange %s is not configured", exchange), nil)
	}
	if err := domain.ValidateSymbol(symbol); err != nil {
		return err
	}
	if !domain.ValidInterval(interval) {
		return domain.NewClientError(domain.ErrCodeInvalidTimeframe,
			fmt.Sprintf("unknown interval %q", interval),
			map[string]interface{}{"valid": domain.Intervals()})
	}
	return nil
}
