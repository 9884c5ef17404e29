package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyInput is returned by Aggregate when there is nothing to aggregate.
	ErrEmptyInput = errors.New("no frame verdicts to aggregate")

	ErrRateLimited    = errors.New("oracle rate limit reached")
	ErrQuotaExhausted = errors.New("oracle quota exhausted")
)

// InvalidVideoError means the source could not be opened or decoded at all.
type InvalidVideoError struct {
	Name string
	Err  error
}

func (e *InvalidVideoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid video %q", e.Name)
	}
	return fmt.Sprintf("invalid video %q: %v", e.Name, e.Err)
}

func (e *InvalidVideoError) Unwrap() error { return e.Err }

// NoFramesExtractedError means every sample point failed to capture.
type NoFramesExtractedError struct {
	Attempted int
	LastErr   error
}

func (e *NoFramesExtractedError) Error() string {
	return fmt.Sprintf("failed to extract any frames from video (attempted %d frames)", e.Attempted)
}

func (e *NoFramesExtractedError) Unwrap() error { return e.LastErr }

type TransportKind string

const (
	TransportRateLimited    TransportKind = "rate_limited"
	TransportQuotaExhausted TransportKind = "quota_exhausted"
	TransportOther          TransportKind = "other"
)

// TransportError is a failure to reach the oracle or a non-2xx reply.
// StatusCode is 0 when no response was received.
type TransportError struct {
	StatusCode int
	Kind       TransportKind
	Body       string
	Err        error
}

func newTransportError(status int, body string, err error) *TransportError {
	kind := TransportOther
	switch status {
	case http.StatusTooManyRequests:
		kind = TransportRateLimited
	case http.StatusPaymentRequired:
		kind = TransportQuotaExhausted
	}
	return &TransportError{StatusCode: status, Kind: kind, Body: body, Err: err}
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("oracle request failed: %v", e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("oracle returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("oracle returned status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == TransportRateLimited
	case ErrQuotaExhausted:
		return e.Kind == TransportQuotaExhausted
	}
	return false
}
