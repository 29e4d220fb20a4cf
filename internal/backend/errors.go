package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExecutorUnavailable is returned when the coding backend's environment
// validation fails before the first iteration.
var ErrExecutorUnavailable = errors.New("executor environment unavailable")

// RateLimitError indicates the backend returned a rate-limit response.
// Callers use errors.As to detect it and apply exponential backoff.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}

// TransientError indicates a retriable backend failure: 5xx responses,
// network timeouts, connection resets.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProtocolError indicates the backend reply could not be parsed at all.
// Never retried.
type ProtocolError struct {
	Provider string
	Detail   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error: %s", e.Provider, e.Detail)
}

// ErrorKind buckets backend failures for the retry policy.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
	KindCancelled   ErrorKind = "cancelled"
)

// Classify buckets an error into its retry taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	// The typed errors are checked first: a per-call timeout wrapped in a
	// TransientError can itself match context.DeadlineExceeded.
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return KindRateLimited
	}
	var te *TransientError
	if errors.As(err, &te) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindPermanent
}
