// Package auth implements signup, adaptive login, and credential
// recovery for SentinelBank.
//
// Authentication model:
//   - Signup requires email verification with a short-lived code.
//   - Login is risk-scored: low-risk sessions get a token directly,
//     medium-risk sessions must confirm an emailed code, high-risk
//     sessions are refused outright.
//   - Five consecutive failed password attempts lock the account.
package auth

import "errors"

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrNotVerified        = errors.New("email not verified")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
	ErrNoPendingChallenge = errors.New("no verification pending")
	ErrLoginRefused       = errors.New("login refused due to suspicious activity")
	ErrResetTokenInvalid  = errors.New("invalid or expired reset token")
	ErrInvalidToken       = errors.New("invalid or expired session token")
)

// Outcome classifies the result of a credential-valid login attempt.
type Outcome string

const (
	// OutcomeSuccess means a session token was issued.
	OutcomeSuccess Outcome = "success"

	// OutcomeVerificationRequired means a step-up code was emailed and
	// the session is pending confirmation.
	OutcomeVerificationRequired Outcome = "verification_required"

	// OutcomeBlocked means the attempt was refused for risk reasons.
	OutcomeBlocked Outcome = "blocked"
)
