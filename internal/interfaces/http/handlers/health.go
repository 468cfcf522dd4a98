package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// Pinger is anything that can confirm its backing connection is alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports component liveness. Database and cache failures
// degrade the service; exchange reachability is informational only, since
// cached data remains servable while a venue is down.
type HealthHandler struct {
	store     Pinger
	cache     Pinger
	exchanges map[string]Pinger
	started   time.Time
	version   string
}

func NewHealthHandler(store, cache Pinger, exchanges map[string]Pinger, version string) *HealthHandler {
	return &HealthHandler{
		store:     store,
		cache:     cache,
		exchanges: exchanges,
		started:   time.Now(),
		version:   version,
	}
}

type healthComponents struct {
	Store     string            `json:"store"`
	Cache     string            `json:"cache"`
	Exchanges map[string]string `json:"exchanges"`
}

type healthResponse struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	UptimeSec  int64            `json:"uptime_sec"`
	Components healthComponents `json:"components"`
}

// Health handles GET /health. Returns 200 when healthy, 503 when degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.started).Seconds()),
		Components: healthComponents{
			Store:     "ok",
			Cache:     "ok",
			Exchanges: make(map[string]string, len(h.exchanges)),
		},
	}

	if err := h.store.Ping(ctx); err != nil {
		resp.Components.Store = "error"
		resp.Status = "degraded"
	}
	if err := h.cache.Ping(ctx); err != nil {
		resp.Components.Cache = "error"
		resp.Status = "degraded"
	}
	for name, ex := range h.exchanges {
		if err := ex.Ping(ctx); err != nil {
			resp.Components.Exchanges[name] = "error"
		} else {
			resp.Components.Exchanges[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}

// Root handles GET /, a minimal service identity response.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"service": "marketdata",
		"version": h.version,
	})
}
