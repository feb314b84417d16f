package withdrawal

import (
	"errors"
)

var (
	ErrInvalidAddress   = errors.New("invalid_address")
	ErrSettlementFailed = errors.New("settlement_failed")
)

// ValidationError rejects a request before any chips move. Reason is the
// code surfaced to the caller.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil || e.Err.Error() == e.Reason {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error) *ValidationError {
	return &ValidationError{Reason: err.Error(), Err: err}
}

// Failure reasons recorded on failed withdrawals.
const (
	reasonBroadcastRejected = "broadcast_rejected"
	reasonBroadcastTimeout  = "broadcast_timeout"
	reasonBroadcastFailed   = "broadcast_failed"
	reasonSignerRejected    = "signer_rejected"
	reasonSettlementTimeout = "settlement_timeout"
)
