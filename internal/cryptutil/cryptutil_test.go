package cryptutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	out, err := Encrypt(plaintext, 7, "hunter2")
	require.NoError(t, err)

	kix, err := KeyIndex(out)
	require.NoError(t, err)
	require.EqualValues(t, 7, kix)

	got, err := Decrypt(out, "hunter2")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	out, err := Encrypt([]byte("hello"), 1, "correct")
	require.NoError(t, err)

	_, err = Decrypt(out, "wrong")
	require.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestEncryptRandomizesSaltAndIV(t *testing.T) {
	a, err := Encrypt([]byte("same plaintext"), 0, "pw")
	require.NoError(t, err)
	b, err := Encrypt([]byte("same plaintext"), 0, "pw")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
