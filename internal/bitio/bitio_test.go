package bitio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	widths := []uint{8, 7, 6, 5, 4, 3, 2, 1}
	values := []uint32{0xAB, 0x55, 0x2A, 0x1F, 0x9, 0x5, 0x3, 0x1}

	var buf bytes.Buffer
	bw := NewWriter(&buf)
	for i, w := range widths {
		require.NoError(t, bw.WriteBits(values[i], w))
	}
	require.NoError(t, bw.Flush())

	br := NewReader(&buf)
	for i, w := range widths {
		got, err := br.ReadBits(w)
		require.NoError(t, err)
		want := values[i] & ((1 << w) - 1)
		require.Equal(t, want, got, "field %d (width %d)", i, w)
	}
}

func TestFlushPadsWithZero(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	require.NoError(t, bw.WriteBits(0x1, 1))
	require.NoError(t, bw.Flush())
	require.Equal(t, []byte{0x80}, buf.Bytes())
}

func TestInvalidWidth(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	require.Error(t, bw.WriteBits(0, 0))
	require.Error(t, bw.WriteBits(0, 17))

	br := NewReader(&buf)
	_, err := br.ReadBits(17)
	require.Error(t, err)
}

func TestByteBoundarySpanning(t *testing.T) {
	var buf bytes.Buffer
	bw := NewWriter(&buf)
	// 3 fields of 5 bits = 15 bits, spans two bytes with one bit left over.
	require.NoError(t, bw.WriteBits(0x1F, 5))
	require.NoError(t, bw.WriteBits(0x00, 5))
	require.NoError(t, bw.WriteBits(0x15, 5))
	require.NoError(t, bw.Flush())
	require.Len(t, buf.Bytes(), 2)

	br := NewReader(&buf)
	v1, err := br.ReadBits(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1F), v1)
	v2, err := br.ReadBits(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0x00), v2)
	v3, err := br.ReadBits(5)
	require.NoError(t, err)
	require.Equal(t, uint32(0x15), v3)
}
