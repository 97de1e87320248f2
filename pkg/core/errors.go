package core

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for retry and handling decisions.
type Kind int

// Error kind constants map every failure onto one handling policy.
const (
	// KindConnectivity indicates no reply or a transport failure; retryable with backoff.
	KindConnectivity Kind = iota
	// KindAuthentication indicates a bad signature, clock skew, or revoked key;
	// not retryable without operator intervention.
	KindAuthentication
	// KindRateLimit indicates server-signaled throttling; retryable after a cooldown.
	KindRateLimit
	// KindProtocol indicates a well-formed error envelope from the venue;
	// surfaced with venue code and message, not retried automatically.
	KindProtocol
	// KindValidation indicates a contract violation caught before any network
	// call; never retried, always a caller bug.
	KindValidation
	// KindDecode indicates a malformed or truncated payload; retried at most
	// once, then surfaced.
	KindDecode
)

// String returns the string representation of the error kind.
func (k Kind) String() string {
	return [...]string{
		"CONNECTIVITY",
		"AUTHENTICATION",
		"RATE_LIMIT",
		"PROTOCOL",
		"VALIDATION",
		"DECODE",
	}[k]
}

// Retryable reports whether a caller may retry the failed operation.
func (k Kind) Retryable() bool {
	return k == KindConnectivity || k == KindRateLimit || k == KindDecode
}

// Sentinel errors for client state conditions.
var (
	// ErrClientClosed is returned when using a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrNotConnected is returned when a WebSocket operation needs a live connection.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrNoCredentials is returned when a signed call has no credentials configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrBreakerOpen is returned when the circuit breaker refuses a dispatch.
	ErrBreakerOpen = errors.New("circuit breaker is open")
)

// Error is the structured error returned from exchange operations.
type Error struct {
	// Kind categorizes the error for programmatic handling.
	Kind Kind `json:"kind"`
	// Venue identifies which exchange produced this error.
	Venue Venue `json:"venue"`
	// StatusCode is the HTTP status code, when the error came from a response.
	StatusCode int `json:"status_code,omitempty"`
	// Code is the venue-specific error code, when present.
	Code string `json:"code,omitempty"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Err is the wrapped underlying error, when any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s (%d/%s): %s", e.Venue, e.Kind, e.StatusCode, e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("[%s] %s (%d): %s", e.Venue, e.Kind, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Venue, e.Kind, e.Message)
	}
}

// Unwrap returns the wrapped underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(venue Venue, kind Kind, message string) *Error {
	return &Error{Kind: kind, Venue: venue, Message: message}
}

// NewHTTPError creates an Error carrying an HTTP status and venue code.
func NewHTTPError(venue Venue, kind Kind, status int, code, message string) *Error {
	return &Error{Kind: kind, Venue: venue, StatusCode: status, Code: code, Message: message}
}

// WrapError creates an Error wrapping an underlying cause.
func WrapError(venue Venue, kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Venue: venue, Message: message, Err: err}
}

// ErrorKind extracts the Kind from err; ok is false if err is not a *core.Error.
func ErrorKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func isKind(err error, kind Kind) bool {
	k, ok := ErrorKind(err)
	return ok && k == kind
}

// IsConnectivity reports whether err is a transport-level failure.
func IsConnectivity(err error) bool { return isKind(err, KindConnectivity) }

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool { return isKind(err, KindAuthentication) }

// IsRateLimit reports whether err is server-signaled throttling.
func IsRateLimit(err error) bool { return isKind(err, KindRateLimit) }

// IsProtocol reports whether err is a venue protocol error envelope.
func IsProtocol(err error) bool { return isKind(err, KindProtocol) }

// IsValidation reports whether err is a pre-flight contract violation.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsDecode reports whether err is a payload decode failure.
func IsDecode(err error) bool { return isKind(err, KindDecode) }
