package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type TrafficObserverError struct {
	Message string
	Cause   error
}

func (e *TrafficObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TrafficObserverError) Unwrap() error {
	return e.Cause
}

// ValidationError marks a row-level contract violation. The offending row is
// dropped and reported; the batch continues.
type ValidationError struct{ TrafficObserverError }

// LoadError marks a retryable batch-level write failure. The watermark is
// guaranteed untouched when one of these surfaces.
type LoadError struct{ TrafficObserverError }

// NormalizationError marks a misconfigured business-day rule. Fatal: the load
// halts rather than persist silently wrong anchors.
type NormalizationError struct{ TrafficObserverError }

// QueryError marks a malformed aggregation request, rejected before the view
// is touched.
type QueryError struct{ TrafficObserverError }

// CacheUnavailableError marks a cache-store failure. Callers degrade to direct
// computation and log; this never reaches the end user.
type CacheUnavailableError struct{ TrafficObserverError }

// -----------------------------------------------------------------------------

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{TrafficObserverError{Message: fmt.Sprintf(format, args...)}}
}

func NewLoadError(msg string, cause error) *LoadError {
	return &LoadError{TrafficObserverError{Message: msg, Cause: cause}}
}

func NewNormalizationError(format string, args ...interface{}) *NormalizationError {
	return &NormalizationError{TrafficObserverError{Message: fmt.Sprintf(format, args...)}}
}

func NewQueryError(msg string, cause error) *QueryError {
	return &QueryError{TrafficObserverError{Message: msg, Cause: cause}}
}

func NewCacheUnavailableError(msg string, cause error) *CacheUnavailableError {
	return &CacheUnavailableError{TrafficObserverError{Message: msg, Cause: cause}}
}

// -----------------------------------------------------------------------------

// IsRetryable reports whether err may be retried without risking duplicated
// or lost data. Only load failures qualify; everything else in the taxonomy
// is either fatal or row-level.
func IsRetryable(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff executes fn up to maxRetries times with exponential
// backoff, honoring ctx cancellation between attempts. Non-retryable errors
// abort immediately.
func RetryWithBackoff(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, maxRetries, lastErr)
}
