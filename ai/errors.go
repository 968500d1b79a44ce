package ai

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable indicates the embedding service could not serve
	// a batch. Nothing from the batch may be written.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderTimeout indicates a request exceeded the per-request timeout.
	// The same batch can be resubmitted.
	ErrProviderTimeout = errors.New("embedding provider timeout")

	// ErrMalformedResponse indicates a response that cannot be matched to its
	// inputs, such as a wrong vector count. It is an ErrProviderUnavailable
	// that is not worth retrying.
	ErrMalformedResponse = errors.New("malformed embedding response")

	// ErrInvalidMaxAttempts indicates a retry budget below one.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)

// IsRetryable reports whether a provider error is transient.
// Cancellation of the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	return errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrProviderUnavailable)
}
