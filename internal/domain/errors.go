package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrContextDone    = errors.New("context cancelled")
	ErrFeedDisconnect = errors.New("feed disconnected")

	// ErrInvalidTransaction is the sentinel wrapped by InvalidTransactionError.
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// InvalidTransactionError describes a transaction rejected during validation.
// Rejection is scoped to the (asset, source) partition the transaction belongs
// to; other partitions in the same batch are unaffected.
type InvalidTransactionError struct {
	Seq      int64
	AssetID  string
	SourceID string
	Reason   string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction seq=%d asset=%s source=%s: %s",
		e.Seq, e.AssetID, e.SourceID, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidTransaction).
func (e *InvalidTransactionError) Unwrap() error {
	return ErrInvalidTransaction
}
