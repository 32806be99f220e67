package flash

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind identifies a class of API failure. The set is closed; the
// transport layer is the only place that produces new values, everything
// above it re-raises or adds context.
type ErrorKind string

const (
	KindInvalidUsername         ErrorKind = "INVALID_USERNAME"
	KindInsufficientBalance     ErrorKind = "INSUFFICIENT_BALANCE"
	KindInvalidBankAccount      ErrorKind = "INVALID_BANK_ACCOUNT"
	KindPaymentFailed           ErrorKind = "PAYMENT_FAILED"
	KindNetworkError            ErrorKind = "NETWORK_ERROR"
	KindAuthenticationFailed    ErrorKind = "AUTHENTICATION_FAILED"
	KindRateLimited             ErrorKind = "RATE_LIMITED"
	KindInvalidAmount           ErrorKind = "INVALID_AMOUNT"
	KindUserNotFound            ErrorKind = "USER_NOT_FOUND"
	KindBankAPIError            ErrorKind = "BANK_API_ERROR"
	KindSettlementLimitExceeded ErrorKind = "SETTLEMENT_LIMIT_EXCEEDED"
	KindFeatureDisabled         ErrorKind = "FEATURE_DISABLED"
)

var knownKinds = map[ErrorKind]bool{
	KindInvalidUsername:         true,
	KindInsufficientBalance:     true,
	KindInvalidBankAccount:      true,
	KindPaymentFailed:           true,
	KindNetworkError:            true,
	KindAuthenticationFailed:    true,
	KindRateLimited:             true,
	KindInvalidAmount:           true,
	KindUserNotFound:            true,
	KindBankAPIError:            true,
	KindSettlementLimitExceeded: true,
	KindFeatureDisabled:         true,
}

// APIError is the sole error shape crossing the client boundary. Raw
// transport failures never escape; they are classified into an APIError at
// the point they are produced.
type APIError struct {
	Kind       ErrorKind
	Message    string
	Details    map[string]interface{}
	OccurredAt time.Time

	cause error
}

func newAPIError(kind ErrorKind, message string) *APIError {
	return &APIError{
		Kind:       kind,
		Message:    message,
		Details:    map[string]interface{}{},
		OccurredAt: time.Now().UTC(),
	}
}

func (e *APIError) withDetail(key string, value interface{}) *APIError {
	e.Details[key] = value
	return e
}

func (e *APIError) withCause(cause error) *APIError {
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *APIError) Unwrap() error {
	return e.cause
}

// IsRateLimited returns true if the error is a rate-limit rejection.
func (e *APIError) IsRateLimited() bool {
	return e.Kind == KindRateLimited
}

// RetryAfter returns the rate-limit hint, in seconds. Zero when the error
// carries no hint.
func (e *APIError) RetryAfter() int {
	v, ok := e.Details["retryAfter"]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}

// KindOf extracts the ErrorKind from err, or "" when err is not an APIError.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// kindForStatus maps a non-success HTTP status to an error kind.
func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return KindInvalidAmount
	case http.StatusUnauthorized:
		return KindAuthenticationFailed
	case http.StatusForbidden:
		return KindInsufficientBalance
	case http.StatusNotFound:
		return KindUserNotFound
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindBankAPIError
	default:
		return KindNetworkError
	}
}

// kindForCode maps a backend-supplied error code to a kind, falling back to
// NetworkError for codes outside the taxonomy.
func kindForCode(code string) ErrorKind {
	if knownKinds[ErrorKind(code)] {
		return ErrorKind(code)
	}
	return KindNetworkError
}
