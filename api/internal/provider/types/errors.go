package types

import (
	"errors"
	"fmt"
)

// ConfigError reports a missing provider credential. Adapters return it
// before touching the network.
type ConfigError struct {
	Provider string
	Key      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s is not configured", e.Provider, e.Key)
}

// UpstreamError is a non-success answer from a provider.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Provider, e.Status, e.Message)
}

// Temporary reports whether the status is worth counting against the
// provider's circuit breaker.
func (e *UpstreamError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

type ValidationError struct {
	Message string
	// TooLarge marks payloads rejected for size.
	TooLarge bool
}

func (e *ValidationError) Error() string { return e.Message }

type QuotaExceededError struct {
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Daily limit reached (%d scans per day). Please try again tomorrow.", e.Limit)
}

// HealthUpstreamError wraps a health adapter failure during a combined
// identification. It is logged, never returned to callers.
type HealthUpstreamError struct {
	Err error
}

func (e *HealthUpstreamError) Error() string { return "health assessment failed: " + e.Err.Error() }
func (e *HealthUpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a history write failure.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "history write failed: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// IsUserFacing reports whether err belongs to the kinds surfaced to callers
// with their own message.
func IsUserFacing(err error) bool {
	var (
		ce *ConfigError
		ue *UpstreamError
		ve *ValidationError
		qe *QuotaExceededError
	)
	return errors.As(err, &ce) || errors.As(err, &ue) || errors.As(err, &ve) || errors.As(err, &qe)
}
