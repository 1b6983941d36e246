package mask

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkar-fmt/mkar/internal/bitio"
)

func TestPermutationRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bitio.NewWriter(&buf)
	gen, err := GenerateAndEncode(V1, bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())

	br := bitio.NewReader(&buf)
	got, err := DecodePermutation(V1, br)
	require.NoError(t, err)

	require.Equal(t, gen.Mapping, got.Mapping)
	require.Equal(t, gen.RMapping, got.RMapping)

	seen := make(map[byte]bool)
	for _, v := range got.Mapping {
		require.False(t, seen[v], "duplicate value %d in decoded permutation", v)
		seen[v] = true
	}
	require.Len(t, seen, 256)
}

func TestMaskUnmaskRoundTrip(t *testing.T) {
	for _, version := range []Version{V0, V1, V2} {
		version := version
		t.Run(versionName(version), func(t *testing.T) {
			m := randomMaskForTest(t, version)

			for _, size := range []int{0, 1, 2, 31, 255, 4096} {
				payload := make([]byte, size)
				for i := range payload {
					payload[i] = byte(i * 37)
				}
				masked := append([]byte(nil), payload...)
				m.Mask(masked)
				if size > 1 {
					require.NotEqual(t, payload, masked, "mask should change data of length %d", size)
				}

				unmasked := append([]byte(nil), masked...)
				m.Unmask(unmasked)
				require.Equal(t, payload, unmasked)
			}
		})
	}
}

func versionName(v Version) string {
	switch v {
	case V0:
		return "v0"
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return "unknown"
	}
}

func randomMaskForTest(t *testing.T, version Version) *Mask {
	t.Helper()
	var buf bytes.Buffer
	bw := bitio.NewWriter(&buf)
	m, err := GenerateAndEncode(version, bw)
	require.NoError(t, err)
	require.NoError(t, bw.Flush())
	return m
}
