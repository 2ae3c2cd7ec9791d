// Package transaction implements risk-scored fund transfers between
// accounts.
//
// Transfers follow the same adaptive model as login: a low-risk session
// executes immediately, a medium-risk session above the amount floor
// must confirm an emailed code, and a high-risk session is refused. The
// bank's database is authoritative; an optional external ledger mirror
// receives best-effort copies of completed transfers.
package transaction

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrRecipientNotFound   = errors.New("recipient account not found")
	ErrOwnAccount          = errors.New("cannot transfer to your own account")
	ErrVerificationPending = errors.New("verification already in progress")
	ErrNoPendingTransfer   = errors.New("no transfer awaiting verification")
	ErrInvalidCode         = errors.New("invalid or expired verification code")
	ErrNotFound            = errors.New("transaction not found")
)

// Channel records where a completed transfer was recorded.
type Channel string

const (
	// ChannelLedger means the transfer was mirrored to the external ledger.
	ChannelLedger Channel = "ledger"
	// ChannelInternal means the transfer settled in the bank database only.
	ChannelInternal Channel = "internal"
)

// Outcome classifies the result of a transfer request.
type Outcome string

const (
	OutcomeCompleted            Outcome = "completed"
	OutcomeVerificationRequired Outcome = "verification_required"
	OutcomeBlocked              Outcome = "blocked"
)

// Transaction is a completed transfer record.
type Transaction struct {
	ID string `json:"id"`

	SenderID      string `json:"-"`
	SenderAccount string `json:"senderAccount"`
	SenderName    string `json:"senderName"`

	RecipientID      string `json:"-"`
	RecipientAccount string `json:"recipientAccount"`
	RecipientName    string `json:"recipientName"`
	IFSC             string `json:"ifsc,omitempty"`

	Amount  int64  `json:"amount"`
	Purpose string `json:"purpose,omitempty"`
	Note    string `json:"note,omitempty"`

	Channel   Channel `json:"channel"`
	LedgerRef string  `json:"ledgerRef,omitempty"`

	RiskScore int `json:"riskScore"`

	// SenderBalanceAfter snapshots the sender's balance after settlement.
	SenderBalanceAfter int64 `json:"senderBalanceAfter"`

	CreatedAt time.Time `json:"createdAt"`
}

// Stats summarizes a user's transfer activity over a window.
type Stats struct {
	Sent          int   `json:"sent"`
	Received      int   `json:"received"`
	TotalSent     int64 `json:"totalSent"`
	TotalReceived int64 `json:"totalReceived"`
	Net           int64 `json:"net"`
}

// Store persists transaction records.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id string) (*Transaction, error)

	// ListByUser returns transactions where the user is sender or
	// recipient, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)

	// Stats aggregates the user's activity since the given time.
	Stats(ctx context.Context, userID string, since time.Time) (*Stats, error)
}
