package translator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedResponse is returned when a provider answers 2xx but the
// translation cannot be found in the body.
var ErrMalformedResponse = errors.New("malformed response")

// Malformed wraps ErrMalformedResponse with the provider name and a detail message
func Malformed(provider, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", provider, ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// TimeoutError is returned when a single provider call exceeds its timeout
type TimeoutError struct {
	Provider string
	Limit    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Provider, e.Limit)
}

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Retryable() bool { return true }

// UpstreamError is a non-success HTTP status returned by a provider
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: upstream returned status %d: %s", e.Provider, e.Status, truncate(body, 300))
}

// Retryable reports whether the status is worth another attempt (429 or 5xx)
func (e *UpstreamError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// TransportError wraps a network failure (connection refused, reset, EOF).
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error   { return e.Err }
func (e *TransportError) Retryable() bool { return true }

// Attempt summarises how one provider failed inside a fallback chain
type Attempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Tries    int    `json:"tries"`
	Status   int    `json:"status,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// NewAttempt builds an Attempt from the last error a provider returned
func NewAttempt(provider string, tries int, err error) Attempt {
	a := Attempt{Provider: provider, Tries: tries}
	if err == nil {
		return a
	}
	a.Reason = err.Error()

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		a.Status = upstream.Status
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		a.Timeout = true
	}
	return a
}

// ExhaustedError is returned when every provider in a chain failed
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Reason)
	}
	return fmt.Sprintf("all providers failed: %s", strings.Join(parts, "; "))
}

// AllTimeouts reports whether every recorded attempt ended in a timeout
func (e *ExhaustedError) AllTimeouts() bool {
	if len(e.Attempts) == 0 {
		return false
	}
	for _, a := range e.Attempts {
		if !a.Timeout {
			return false
		}
	}
	return true
}

// ClassifyTimeout turns a deadline hit on the per-call context into a
// TimeoutError. When the caller's own context is done its error is returned
// instead, so cancellation is never mistaken for a slow provider.
func ClassifyTimeout(parent, call context.Context, provider string, limit time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, Limit: limit}
	}
	return err
}

// Outcome returns a short label for an attempt result, used for metrics and logs
func Outcome(err error) string {
	if err == nil {
		return "success"
	}

	var timeout *TimeoutError
	var upstream *UpstreamError
	var transport *TransportError
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &upstream):
		switch {
		case upstream.Status == http.StatusTooManyRequests:
			return "rate_limited"
		case upstream.Status >= 500:
			return "upstream_5xx"
		default:
			return "upstream_4xx"
		}
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.As(err, &transport):
		return "transport"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
