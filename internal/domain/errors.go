package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is the sentinel wrapped by every error that should surface
// to the decision engine as "no usable data for this input". Callers match it
// with errors.Is and must fail closed rather than substitute a default.
var ErrUnavailable = errors.New("upstream data unavailable")

// TransportError is a network-level failure (timeout, 429, 5xx). It is
// retryable and counts toward the source's circuit breaker.
type TransportError struct {
	Source     string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error from %s (status %d): %s", e.Source, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport error from %s: %s", e.Source, e.Message)
}

func (e *TransportError) Unwrap() error { return ErrUnavailable }

// Retryable reports whether the failure should be retried within the cycle.
func (e *TransportError) Retryable() bool {
	switch e.StatusCode {
	case 0, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// DataInsufficiencyError means the upstream answered but did not return
// enough history to run the analytic. It is a data failure, not a transport
// failure: it must not trip the circuit breaker and is not retried within the
// cycle.
type DataInsufficiencyError struct {
	Symbol    string
	Timeframe Timeframe
	Observed  int
	Required  int
}

func (e *DataInsufficiencyError) Error() string {
	return fmt.Sprintf("insufficient data for %s %s: %d candles observed, %d required",
		e.Symbol, e.Timeframe, e.Observed, e.Required)
}

func (e *DataInsufficiencyError) Unwrap() error { return ErrUnavailable }

// ValidationError means the upstream returned malformed or out-of-range
// values (bid >= ask, price <= 0). The value is treated as unavailable, never
// coerced.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrUnavailable }

// ConfigurationError is fatal at startup: a missing regime row or unmapped
// category must stop the process rather than silently default at runtime.
type ConfigurationError struct {
	Section string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Section, e.Message)
}

// IsInsufficient reports whether err is a data-insufficiency failure as
// opposed to a transport one.
func IsInsufficient(err error) bool {
	var die *DataInsufficiencyError
	return errors.As(err, &die)
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
