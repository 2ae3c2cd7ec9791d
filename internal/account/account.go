// Package account generates and validates bank account identifiers.
package account

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	// NumberLength is the length of a generated account number.
	NumberLength = 12

	// ifscBankCode is the fixed institution prefix of generated IFSC codes.
	ifscBankCode = "SENT"
)

var (
	numberPattern = regexp.MustCompile(`^[1-9][0-9]{11}$`)
	ifscPattern   = regexp.MustCompile(`^[A-Z]{4}0[0-9]{6}$`)
)

// NewNumber generates a 12-digit account number. The first digit is
// never zero so the number survives round-trips through numeric types.
func NewNumber() string {
	digits := make([]byte, NumberLength)
	digits[0] = '1' + randByte(9)
	for i := 1; i < NumberLength; i++ {
		digits[i] = '0' + randByte(10)
	}
	return string(digits)
}

// NewIFSC generates an IFSC-style branch code: a four-letter bank code,
// a zero, then six random digits.
func NewIFSC() string {
	return fmt.Sprintf("%s0%06d", ifscBankCode, randInt(1000000))
}

// ValidNumber reports whether s is a well-formed account number.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// ValidIFSC reports whether s is a well-formed IFSC code.
func ValidIFSC(s string) bool {
	return ifscPattern.MatchString(s)
}

func randByte(n int64) byte {
	return byte(randInt(n))
}

func randInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return v.Int64()
}
