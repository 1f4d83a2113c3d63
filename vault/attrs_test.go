package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeAttrsRoundTrip(t *testing.T) {
	key := random(16)
	attrs := map[string]any{"n": "hello.txt", "c": "somechecksum"}

	encoded, err := encodeNodeAttrs(key, attrs)
	require.NoError(t, err)

	decoded, err := decodeNodeAttrs(key, encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, attrs["n"], decoded["n"])
	assert.Equal(t, attrs["c"], decoded["c"])
}

func TestNodeAttrsWrongMagicRejected(t *testing.T) {
	key := random(16)
	plain := alignbuf([]byte("NOPE{\"n\":\"x\"}"), 16, false)
	ct := aesEncCBC(key, plain)

	decoded, err := decodeNodeAttrs(key, ub64enc(ct))
	assert.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestNodeAttrsCorruptCiphertextNeverPanics(t *testing.T) {
	key := random(16)
	encoded, err := encodeNodeAttrs(key, map[string]any{"n": "a"})
	require.NoError(t, err)

	raw, err := ub64dec(encoded)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := ub64enc(raw)

	assert.NotPanics(t, func() {
		decoded, err := decodeNodeAttrs(key, tampered)
		assert.NoError(t, err)
		_ = decoded
	})
}

func TestNodeAttrsWrongKeyYieldsNilNotPanic(t *testing.T) {
	key := random(16)
	other := random(16)
	encoded, err := encodeNodeAttrs(key, map[string]any{"n": "a"})
	require.NoError(t, err)

	decoded, err := decodeNodeAttrs(other, encoded)
	assert.NoError(t, err)
	assert.Nil(t, decoded)
}
