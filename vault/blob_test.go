package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionBlobRoundTrip(t *testing.T) {
	pk := random(16)
	plaintext := []byte(`{"uh":"abc","mk":"dummy"}`)

	ct := encodeBlob(pk, "alice@example.com", "hunter2", "", plaintext)
	decoded, ok := decodeBlob(pk, "alice@example.com", "hunter2", "", ct)
	require.True(t, ok)
	assert.Equal(t, plaintext, decoded)
}

func TestSessionBlobTamperRejected(t *testing.T) {
	pk := random(16)
	plaintext := []byte("session record bytes")
	ct := encodeBlob(pk, "bob@example.com", "swordfish", "fs", plaintext)

	tampered := append([]byte{}, ct...)
	tampered[len(tampered)-1] ^= 0x01

	_, ok := decodeBlob(pk, "bob@example.com", "swordfish", "fs", tampered)
	assert.False(t, ok)
}

func TestSessionBlobShortInputRejected(t *testing.T) {
	pk := random(16)
	_, ok := decodeBlob(pk, "bob@example.com", "swordfish", "", []byte("short"))
	assert.False(t, ok)
}

func TestSessionBlobPathDeterministic(t *testing.T) {
	pk := random(16)
	p1 := sessionBlobPath("/tmp", pk, "user", "pass", "")
	p2 := sessionBlobPath("/tmp", pk, "user", "pass", "")
	assert.Equal(t, p1, p2)

	p3 := sessionBlobPath("/tmp", pk, "user", "pass", "fs")
	assert.NotEqual(t, p1, p3)
}
