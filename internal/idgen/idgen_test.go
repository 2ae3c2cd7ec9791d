package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("usr_")
	assert.True(t, strings.HasPrefix(id, "usr_"))
	assert.Len(t, id, 4+24)
	assert.NotEqual(t, id, WithPrefix("usr_"))
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(32), 64)
	assert.NotEqual(t, Hex(16), Hex(16))
}
