package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/domain"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON encodes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// WriteError maps a service error onto the wire. Client-attributable domain
// errors become 400 with their code; rate limits become 429 with a
// Retry-After hint; everything else is a 500 with a stable code and no
// internal detail leaked.
func WriteError(w http.ResponseWriter, err error) {
	if rl, ok := domain.AsRateLimit(err); ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.RetryAfter.Seconds())))
		WriteJSON(w, http.StatusTooManyRequests, ErrorBody{Error: ErrorDetail{
			Code:    string(domain.ErrCodeRateLimit),
			Message: fmt.Sprintf("rate limited by %s", rl.Exchange),
		}})
		return
	}

	var de *domain.Error
	if errors.As(err, &de) {
		status := http.StatusInternalServerError
		if de.IsClient() {
			status = http.StatusBadRequest
		}
		WriteJSON(w, status, ErrorBody{Error: ErrorDetail{
			Code:    string(de.Code),
			Message: de.Message,
			Details: de.Details,
		}})
		return
	}

	var ee *domain.ExchangeError
	if errors.As(err, &ee) {
		WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Code:    string(domain.ErrCodeExchange),
			Message: fmt.Sprintf("exchange %s request failed", ee.Exchange),
		}})
		return
	}

	log.Error().Err(err).Msg("unclassified error reached the API layer")
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
		Code:    string(domain.ErrCodeInternal),
		Message: "internal server error",
	}})
}

// errorMessageFor flattens an error into the "CODE: message" form embedded
// in per-symbol batch results.
func errorMessageFor(err error) string {
	if rl, ok := domain.AsRateLimit(err); ok {
		return fmt.Sprintf("%s: rate limited by %s", domain.ErrCodeRateLimit, rl.Exchange)
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return fmt.Sprintf("%s: %s", de.Code, de.Message)
	}
	var ee *domain.ExchangeError
	if errors.As(err, &ee) {
		return fmt.Sprintf("%s: exchange %s request failed", domain.ErrCodeExchange, ee.Exchange)
	}
	return fmt.Sprintf("%s: internal server error", domain.ErrCodeInternal)
}
