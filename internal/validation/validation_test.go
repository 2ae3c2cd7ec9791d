package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("user@example.com"))
	assert.True(t, IsValidEmail("first.last+tag@sub.example.co.in"))
	assert.False(t, IsValidEmail(""))
	assert.False(t, IsValidEmail("no-at-sign"))
	assert.False(t, IsValidEmail("two@@example.com"))
	assert.False(t, IsValidEmail("spaces in@example.com"))
	assert.False(t, IsValidEmail("user@nodot"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestSanitizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", SanitizeEmail("  User@Example.COM "))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("email", ""),
		ValidEmail("email", ""),
		ValidPassword("password", "short"),
		PositiveAmount("amount", -5),
	)
	assert.Len(t, errs, 3)
	assert.Equal(t, "email: is required", errs.Error())
}

func TestValidate_AllPass(t *testing.T) {
	errs := Validate(
		Required("email", "user@example.com"),
		ValidEmail("email", "user@example.com"),
		ValidPassword("password", "correct horse battery"),
		ValidAccountNumber("account", "123456789012"),
		ValidIFSC("ifsc", "SENT0123456"),
		PositiveAmount("amount", 100),
		MaxLength("note", "short note", 500),
	)
	assert.Empty(t, errs)
}

func TestValidAccountNumber(t *testing.T) {
	assert.Nil(t, ValidAccountNumber("account", "")())
	assert.NotNil(t, ValidAccountNumber("account", "12345")())
	assert.NotNil(t, ValidAccountNumber("account", "012345678901")())
}
