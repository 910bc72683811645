package main

import "errors"

// Ledger error taxonomy. Operations wrap these with context; match with errors.Is.
var (
	ErrOperational        = errors.New("ledger is not operational")
	ErrUnauthorized       = errors.New("caller is not authorized")
	ErrInvalidState       = errors.New("invalid state for operation")
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrDuplicateVote      = errors.New("duplicate vote")
	ErrInsufficientAmount = errors.New("insufficient amount")
	ErrCapExceeded        = errors.New("insurance cap exceeded")
	ErrIndexMismatch      = errors.New("index does not match oracle")
	ErrUnknownEntity      = errors.New("unknown entity")
	ErrAlreadyFinalized   = errors.New("status request already finalized")
	ErrNoBalance          = errors.New("no withdrawable balance")
)

// IsNonFatal reports whether err signals a benign race rather than a protocol violation.
// A late oracle response to a finalized request is the only such case.
func IsNonFatal(err error) bool {
	return errors.Is(err, ErrAlreadyFinalized)
}

// errorCode returns a stable, machine-readable code for a ledger error
func errorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOperational):
		return "not_operational"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, ErrInsufficientAmount):
		return "insufficient_amount"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, ErrIndexMismatch):
		return "index_mismatch"
	case errors.Is(err, ErrUnknownEntity):
		return "unknown_entity"
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrNoBalance):
		return "no_balance"
	default:
		return "internal"
	}
}

var errorsByCode = map[string]error{
	"not_operational":     ErrOperational,
	"unauthorized":        ErrUnauthorized,
	"invalid_state":       ErrInvalidState,
	"already_registered":  ErrAlreadyRegistered,
	"duplicate_vote":      ErrDuplicateVote,
	"insufficient_amount": ErrInsufficientAmount,
	"cap_exceeded":        ErrCapExceeded,
	"index_mismatch":      ErrIndexMismatch,
	"unknown_entity":      ErrUnknownEntity,
	"already_finalized":   ErrAlreadyFinalized,
	"no_balance":          ErrNoBalance,
}

// RemoteError is a ledger error reported by a remote node
type RemoteError struct {
	Code    string
	Message string
	Status  int
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the sentinel matching the remote error code, if any
func (e *RemoteError) Unwrap() error {
	return errorsByCode[e.Code]
}
