package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrReconnectExhausted is surfaced after the reconnect policy runs out
// of attempts; the manager stays idle until a manual Reconnect.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ErrServerClosed marks a clean server-initiated close. No automatic
// reconnect is attempted for it.
var ErrServerClosed = errors.New("server closed connection")

// ErrNotConnected is returned by Send when no handle is live.
var ErrNotConnected = errors.New("not connected")

// AuthError means no credential was obtainable or the server rejected
// the one presented. Terminal for the current attempt; never retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// TransportError wraps a websocket-upgrade failure while polling remains
// viable. It is logged at debug level and never surfaced to consumers.
type TransportError struct {
	Transport Kind
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransientError is an advisory connection failure covered by the
// reconnect policy. Temporary() follows the net.Error convention.
type TransientError struct {
	Err     error
	Attempt int
	Delay   time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("connection lost (attempt %d, retry in %s): %v", e.Attempt, e.Delay, e.Err)
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Temporary() bool { return true }

// markers the backend uses in connect_error messages for credential
// problems
var authMarkers = []string{"auth", "unauthorized", "jwt", "forbidden", "credential"}

// IsAuthFailure classifies an error as an authentication failure, either
// by type or by message marker.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range authMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
