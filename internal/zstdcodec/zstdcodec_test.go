package zstdcodec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 100)
	compressed, err := Compress(data)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(data))

	got, err := Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not a zstd frame"))
	require.Error(t, err)
}

func TestCompressEmpty(t *testing.T) {
	compressed, err := Compress(nil)
	require.NoError(t, err)
	got, err := Decompress(compressed)
	require.NoError(t, err)
	require.Empty(t, got)
}
