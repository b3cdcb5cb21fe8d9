package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired indicates that the access token was rejected (401) or
// is already past its expiry. Callers route the user to re-authentication.
var ErrSessionExpired = errors.New("session expired")

// StatusError is returned for any non-2xx response other than 401.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.Code, e.Method, e.Path, e.Body)
}

// IsAuthError reports whether err (or any error in its chain) means the
// session must be re-established.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// Retryable reports whether err is a transient failure worth retrying:
// transport errors, timeouts, 408, 429 and 5xx. Auth failures, other 4xx
// responses and caller cancellation are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsAuthError(err) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusRequestTimeout,
			statusErr.Code == http.StatusTooManyRequests,
			statusErr.Code >= 500:
			return true
		default:
			return false
		}
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}

	return true
}

// DecodeError wraps a response body that could not be parsed.
type DecodeError struct {
	Method string
	Path   string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unmarshaling response from %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
