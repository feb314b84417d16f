package store

import "errors"

var (
	ErrNotFound             = errors.New("not_found")
	ErrDuplicateTransaction = errors.New("duplicate_transaction")
	ErrInsufficientBalance  = errors.New("insufficient_balance")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrDailyCapExceeded     = errors.New("daily_cap_exceeded")
	ErrAccountClosed        = errors.New("account_closed")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrAlreadyBroadcast     = errors.New("already_broadcast")
)
