package vaultcrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	key, err := NewKeyHex()
	require.NoError(t, err)

	inputs := [][]byte{
		nil,
		{},
		[]byte("x"),
		[]byte("the quick brown fox"),
		bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 4096),
	}
	for _, plain := range inputs {
		ct, err := Encrypt(plain, key)
		require.NoError(t, err)
		require.Greater(t, len(ct), 12)

		got, err := Decrypt(ct, key)
		require.NoError(t, err)
		require.Equal(t, len(plain), len(got))
		require.True(t, bytes.Equal(plain, got))
	}
}

func TestNonceUniquePerCall(t *testing.T) {
	t.Parallel()

	key, err := NewKeyHex()
	require.NoError(t, err)
	plain := []byte("same plaintext")

	a, err := Encrypt(plain, key)
	require.NoError(t, err)
	b, err := Encrypt(plain, key)
	require.NoError(t, err)
	require.NotEqual(t, a[:12], b[:12], "nonce must differ between calls")
	require.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	t.Parallel()

	k1, err := NewKeyHex()
	require.NoError(t, err)
	k2, err := NewKeyHex()
	require.NoError(t, err)

	ct, err := Encrypt([]byte("secret ledger"), k1)
	require.NoError(t, err)

	got, err := Decrypt(ct, k2)
	require.Nil(t, got)
	var derr *DecryptionError
	require.ErrorAs(t, err, &derr)
}

func TestDecryptTampered(t *testing.T) {
	t.Parallel()

	key, err := NewKeyHex()
	require.NoError(t, err)
	ct, err := Encrypt([]byte("balance sheet"), key)
	require.NoError(t, err)

	for _, i := range []int{0, 12, len(ct) - 1} {
		mutated := append([]byte(nil), ct...)
		mutated[i] ^= 0x01
		got, err := Decrypt(mutated, key)
		require.Nil(t, got, "flipping byte %d must not yield plaintext", i)
		var derr *DecryptionError
		require.ErrorAs(t, err, &derr)
	}
}

func TestDecryptTruncatedAndMalformed(t *testing.T) {
	t.Parallel()

	key, err := NewKeyHex()
	require.NoError(t, err)

	var derr *DecryptionError

	_, err = Decrypt([]byte{1, 2, 3}, key)
	require.ErrorAs(t, err, &derr)

	ct, err := Encrypt([]byte("statement"), key)
	require.NoError(t, err)
	_, err = Decrypt(ct[:len(ct)-4], key)
	require.ErrorAs(t, err, &derr)

	_, err = Decrypt(ct, "not-hex")
	require.ErrorAs(t, err, &derr)

	_, err = Decrypt(ct, "abcd") // too short for AES-256
	require.ErrorAs(t, err, &derr)
}
