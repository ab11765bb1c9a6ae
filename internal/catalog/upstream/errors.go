package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/ratelimit"
)

const (
	ReasonTimeout   = "timeout"
	ReasonThrottled = "throttled"
	ReasonTransport = "transport"
	ReasonStatus    = "status"
	ReasonTooLarge  = "too_large"
	ReasonDecode    = "decode"
	ReasonNotFound  = "not_found"
)

// Error wraps every upstream failure. errors.Is(err, domain.ErrUpstreamUnavailable)
// holds for all of them.
type Error struct {
	Op         string
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: HTTP %d for URL %s", e.Op, e.StatusCode, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %s for URL %s: %v", e.Op, e.Reason, e.URL, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s for URL %s", e.Op, e.Reason, e.URL)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == domain.ErrUpstreamUnavailable
}

// ReasonOf returns the failure reason for metrics, or "unknown".
func ReasonOf(err error) string {
	var upErr *Error
	if errors.As(err, &upErr) && upErr.Reason != "" {
		return upErr.Reason
	}
	return "unknown"
}

func transportError(op, url string, err error) *Error {
	reason := ReasonTransport
	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, ratelimit.ErrThrottled):
		reason = ReasonThrottled
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.As(err, &timeout) && timeout.Timeout():
		reason = ReasonTimeout
	}
	return &Error{Op: op, URL: url, Reason: reason, Err: err}
}
