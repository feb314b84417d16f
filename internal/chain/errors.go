package chain

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sony/gobreaker"
)

var (
	ErrBroadcastRejected = errors.New("broadcast_rejected")
	ErrRateLimited       = errors.New("indexer_rate_limited")
	ErrUnavailable       = errors.New("indexer_unavailable")
	ErrSignerRejected    = errors.New("signer_rejected")
)

// BroadcastError carries the indexer's rejection message. It matches
// ErrBroadcastRejected.
type BroadcastError struct {
	Code    int
	Message string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast rejected (code %d): %s", e.Code, e.Message)
}

func (e *BroadcastError) Unwrap() error { return ErrBroadcastRejected }

// APIError is a non-zero code in the indexer envelope.
type APIError struct {
	Status int
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("indexer error: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// IsTransient reports whether err is worth retrying: timeouts, network
// failures, rate limiting, 5xx and an open breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBroadcastRejected) || errors.Is(err, ErrSignerRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == 429
	}
	return false
}
