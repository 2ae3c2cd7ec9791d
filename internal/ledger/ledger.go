// Package ledger mirrors completed transfers to an external append-only
// ledger. The mirror is strictly best-effort: the bank's database remains
// the source of truth, and transfers succeed whether or not the mirror
// accepts them.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnavailable = errors.New("ledger: mirror unavailable")
	ErrRejected    = errors.New("ledger: record rejected")
)

// Record is one transfer to mirror.
type Record struct {
	TransactionID    string
	RecipientAccount string
	Amount           int64
}

// Result describes an accepted mirror write.
type Result struct {
	Reference string // mirror-assigned reference (tx hash)
}

// Client writes transfer records to a ledger mirror.
type Client interface {
	// Available reports whether the mirror can currently accept writes.
	// Callers use this to decide between on-ledger and off-ledger paths
	// before attempting a Record.
	Available(ctx context.Context) bool

	// Record appends one transfer to the mirror.
	Record(ctx context.Context, rec *Record) (*Result, error)
}

// Noop is a Client for deployments without a configured mirror. It is
// never available and rejects every write.
type Noop struct{}

func (Noop) Available(ctx context.Context) bool { return false }

func (Noop) Record(ctx context.Context, rec *Record) (*Result, error) {
	return nil, ErrUnavailable
}

// RecordError wraps mirror write failures with operation context.
type RecordError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *RecordError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("ledger: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
