package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cryptoedge/marketdata/internal/domain"
	"github.com/cryptoedge/marketdata/internal/interfaces/http/handlers"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware reuses the caller's correlation id when present, mints
// one otherwise, echoes it on the response, and binds it into the request
// logger.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		logger := log.With().Str("request_id", requestID).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		zerolog.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// recoveryMiddleware converts handler panics into a 500 instead of killing
// the connection.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				handlers.WriteJSON(w, http.StatusInternalServerError, handlers.ErrorBody{
					Error: handlers.ErrorDetail{
						Code:    string(domain.ErrCodeInternal),
						Message: "internal server error",
					},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the bearer token. Comparison runs over fixed-size
// digests so the timing is independent of where the mismatch occurs.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return s.requireAuth(next)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			zerolog.Ctx(r.Context()).Error().Msg("api token is not configured")
			handlers.WriteJSON(w, http.StatusInternalServerError, handlers.ErrorBody{
				Error: handlers.ErrorDetail{
					Code:    string(domain.ErrCodeInternal),
					Message: "authentication is not configured",
				},
			})
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		want := sha256.Sum256([]byte(s.token))
		got := sha256.Sum256([]byte(presented))
		if presented == "" || subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			handlers.WriteJSON(w, http.StatusUnauthorized, handlers.ErrorBody{
				Error: handlers.ErrorDetail{
					Code:    "UNAUTHORIZED",
					Message: "missing or invalid bearer token",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
