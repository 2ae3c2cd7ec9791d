// Package user defines the customer account entity and its persistence
// contract. The user record is the single shared mutable resource of the
// authentication core: it owns the trust profile, the lockout state, and
// the pending step-up verifications for both channels.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/adityanair/sentinelbank/internal/risk"
	"github.com/adityanair/sentinelbank/internal/stepup"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrAccountTaken       = errors.New("account number already in use")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrSelfTransfer       = errors.New("cannot transfer to the same account")
	ErrNegativeAmount     = errors.New("amount must be positive")
	ErrConcurrentModified = errors.New("user record modified concurrently")
)

// Lockout policy.
const (
	MaxFailedLogins = 5
	LockoutDuration = 30 * time.Minute
)

// StartingBalance is credited to every new account.
const StartingBalance int64 = 10000

// PendingTransfer snapshots a transaction awaiting step-up verification,
// so verification can replay it without the client resubmitting details.
type PendingTransfer struct {
	Amount           int64        `json:"amount"`
	RecipientAccount string       `json:"recipientAccount"`
	RecipientName    string       `json:"recipientName"`
	IFSC             string       `json:"ifsc"`
	Purpose          string       `json:"purpose"`
	Note             string       `json:"note,omitempty"`
	UseLedger        bool         `json:"useLedger"`
	Context          risk.Context `json:"context"`
}

// User is the persisted customer record.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`

	AccountNumber string `json:"accountNumber"`
	IFSCCode      string `json:"ifscCode"`
	Balance       int64  `json:"balance"`

	IsVerified bool      `json:"isVerified"`
	LastLogin  time.Time `json:"lastLogin,omitempty"`

	// LoginCode serves the signup e-mail verification and the login 2FA
	// channel; TransferCode serves the transaction channel. One active
	// instance per channel; issuing a new code supersedes the old one.
	LoginCode       *stepup.Challenge `json:"-"`
	TransferCode    *stepup.Challenge `json:"-"`
	PendingTransfer *PendingTransfer  `json:"-"`

	ResetToken     string    `json:"-"`
	ResetExpiresAt time.Time `json:"-"`

	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`

	Profile risk.TrustProfile `json:"-"`

	// Version supports optimistic-concurrency updates in stores that
	// cannot rely on an external per-user lock.
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Locked reports whether the account is under a lockout window.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RecordFailedLogin counts a failed primary-credential attempt and starts
// a lockout window once the threshold is reached. Returns true when this
// attempt triggered the lock.
func (u *User) RecordFailedLogin(now time.Time) bool {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= MaxFailedLogins && !u.Locked(now) {
		until := now.Add(LockoutDuration)
		u.LockedUntil = &until
		return true
	}
	return false
}

// ResetLockout clears the failure counter and any active lock. Called on
// successful authentication.
func (u *User) ResetLockout() {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
}

// ClearLoginCode and ClearTransferCode consume the respective channel's
// challenge. For the transaction channel the snapshot is cleared in the
// same update, atomically with granting the deferred effect.
func (u *User) ClearLoginCode() { u.LoginCode = nil }

func (u *User) ClearTransferCode() {
	u.TransferCode = nil
	u.PendingTransfer = nil
}

// Clone returns a deep copy safe to hand to callers of a shared store.
func (u *User) Clone() *User {
	cp := *u
	if u.LoginCode != nil {
		c := *u.LoginCode
		cp.LoginCode = &c
	}
	if u.TransferCode != nil {
		c := *u.TransferCode
		cp.TransferCode = &c
	}
	if u.PendingTransfer != nil {
		p := *u.PendingTransfer
		cp.PendingTransfer = &p
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		cp.LockedUntil = &t
	}
	cp.Profile = cloneProfile(u.Profile)
	return &cp
}

func cloneProfile(p risk.TrustProfile) risk.TrustProfile {
	cp := p
	cp.TrustedIPs = append([]string(nil), p.TrustedIPs...)
	cp.TrustedDevices = append([]string(nil), p.TrustedDevices...)
	cp.Locations = append([]risk.GeoPoint(nil), p.Locations...)
	cp.ContextLogs = append([]risk.ContextLog(nil), p.ContextLogs...)
	if p.Behavioral.TypingSpeed != nil {
		v := *p.Behavioral.TypingSpeed
		cp.Behavioral.TypingSpeed = &v
	}
	return cp
}

// Store persists user records. Implementations must make Update atomic
// with respect to the record's Version so concurrent mutations of the
// trust profile, lockout counters, and pending verifications are never
// silently lost.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByAccountNumber(ctx context.Context, account string) (*User, error)
	GetByResetToken(ctx context.Context, token string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error

	// Transfer atomically moves amount from the sender's balance to the
	// recipient's. It fails with ErrInsufficientFunds without mutating
	// either record when the sender cannot cover the amount.
	Transfer(ctx context.Context, senderID, recipientID string, amount int64) error
}
