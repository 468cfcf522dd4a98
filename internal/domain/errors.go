package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies a failure class for API consumers.
type ErrorCode string

const (
	// Client errors (4xx).
	ErrCodeInvalidSymbol     ErrorCode = "INVALID_SYMBOL"
	ErrCodeInvalidTimeframe  ErrorCode = "INVALID_TIMEFRAME"
	ErrCodeInvalidTimeRange  ErrorCode = "INVALID_TIME_RANGE"
	ErrCodeInvalidExchange   ErrorCode = "INVALID_EXCHANGE"
	ErrCodeBatchSizeExceeded ErrorCode = "BATCH_SIZE_EXCEEDED"
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"

	// Server errors (5xx).
	ErrCodeExchange  ErrorCode = "EXCHANGE_ERROR"
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"
	ErrCodeDatabase  ErrorCode = "DATABASE_ERROR"
	ErrCodeCache     ErrorCode = "CACHE_ERROR"
	ErrCodeInternal  ErrorCode = "INTERNAL_ERROR"
)

// Error is the structured service error carried to the API layer.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	client  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsClient reports whether the error is attributable to the caller (4xx).
func (e *Error) IsClient() bool { return e.client }

// NewClientError builds a caller-attributable error (maps to 400).
func NewClientError(code ErrorCode, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details, client: true}
}

// NewServerError builds a service-side error (maps to 500).
func NewServerError(code ErrorCode, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// WrapServerError builds a service-side error preserving the cause chain.
func WrapServerError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// RateLimitError signals that a venue rejected a request for rate reasons.
// The scheduler pauses all work for the exchange for RetryAfter.
type RateLimitError struct {
	Exchange   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Exchange, e.RetryAfter)
}

// NewRateLimitError builds a rate-limit signal with the venue-suggested
// retry delay, defaulting to 60s when the venue did not supply one.
func NewRateLimitError(exchange string, retryAfter time.Duration) *RateLimitError {
	if retryAfter <= 0 {
		retryAfter = 60 * time.Second
	}
	return &RateLimitError{Exchange: exchange, RetryAfter: retryAfter}
}

// AsRateLimit extracts a RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}

// FailureKind splits exchange failures into retryable and terminal.
type FailureKind int

const (
	// FailureTransient covers network hiccups and 5xx responses; the
	// scheduler retries at the next fire.
	FailureTransient FailureKind = iota
	// FailureFatal covers malformed responses and unknown symbols; not
	// retried within the same fire.
	FailureFatal
)

// ExchangeError is a normalized venue failure. Callers never see raw venue
// errors; the adapter classifies everything into RateLimitError or this.
type ExchangeError struct {
	Exchange string
	Symbol   string
	Kind     FailureKind
	Err      error
}

func (e *ExchangeError) Error() string {
	kind := "transient"
	if e.Kind == FailureFatal {
		kind = "fatal"
	}
	return fmt.Sprintf("%s exchange error from %s: %v", kind, e.Exchange, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// NewTransientError wraps a retryable venue failure.
func NewTransientError(exchange, symbol string, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Symbol: symbol, Kind: FailureTransient, Err: err}
}

// NewFatalError wraps a terminal venue failure.
func NewFatalError(exchange, symbol string, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Symbol: symbol, Kind: FailureFatal, Err: err}
}

// IsTransient reports whether err is a retryable exchange failure.
func IsTransient(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Kind == FailureTransient
}

// IsFatal reports whether err is a terminal exchange failure.
func IsFatal(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Kind == FailureFatal
}
