// Package stepup implements the one-time-code challenge used for login
// 2FA and high-value transaction verification.
//
// A challenge moves NONE -> PENDING when medium risk triggers it, and
// leaves PENDING by being consumed (correct code in time), superseded
// (a new challenge replaces it), or expiring. Terminal states are never
// stored: the absence of a matching, unexpired code is authoritative,
// so expired codes are treated as absent wherever they are read.
package stepup

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

const (
	// CodeLength is the number of ASCII digits in a challenge code.
	CodeLength = 6

	// LoginTTL and TransferTTL bound how long an issued code is valid.
	LoginTTL    = 5 * time.Minute
	TransferTTL = 5 * time.Minute

	// SignupTTL is the much shorter window for the e-mail verification
	// code issued at signup.
	SignupTTL = 1 * time.Minute
)

// Challenge is a pending one-time code. One active instance exists per
// channel at a time; issuing a new one supersedes the old.
type Challenge struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// New issues a fresh challenge valid for ttl from now.
func New(now time.Time, ttl time.Duration) *Challenge {
	return &Challenge{
		Code:      GenerateCode(),
		ExpiresAt: now.Add(ttl),
	}
}

// Active reports whether the challenge exists and has not expired.
func (c *Challenge) Active(now time.Time) bool {
	return c != nil && now.Before(c.ExpiresAt)
}

// Matches reports whether the submitted code consumes the challenge. An
// expired challenge never matches: callers surface the same "invalid or
// expired" signal for both cases so the response does not reveal which
// check failed.
func (c *Challenge) Matches(code string, now time.Time) bool {
	if !c.Active(now) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Code), []byte(code)) == 1
}

// GenerateCode returns a uniformly random 6-digit ASCII code,
// zero-padded.
func GenerateCode() string {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%0*d", CodeLength, n)
}
