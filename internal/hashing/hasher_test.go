package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestIsDeterministicAndBound(t *testing.T) {
	h, err := NewHasher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	d1 := h.Digest("u@x.com", "123456")
	d2 := h.Digest("u@x.com", "123456")
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 32)

	assert.NotEqual(t, d1, h.Digest("v@x.com", "123456"), "digest must depend on the email")
	assert.NotEqual(t, d1, h.Digest("u@x.com", "123457"))

	assert.True(t, h.Verify("u@x.com", "123456", d1))
	assert.False(t, h.Verify("u@x.com", "000000", d1))
}

func TestDifferentKeysDiffer(t *testing.T) {
	a, err := NewHasher("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	b, err := NewHasher("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)

	assert.NotEqual(t, a.Digest("u@x.com", "123456"), b.Digest("u@x.com", "123456"))
}

func TestNewHasherKeyLength(t *testing.T) {
	_, err := NewHasher("short")
	assert.ErrorIs(t, err, ErrInvalidKey)

	h, err := NewHasher("")
	require.NoError(t, err)
	assert.Len(t, h.key, 32)
}
