package permtreap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTakeProducesEveryValueOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr := New(rng.Uint32)
	require.Equal(t, 256, tr.Len())

	seen := make(map[byte]bool)
	for i := 0; i < 255; i++ {
		rank := rng.Intn(256 - i)
		v := tr.Take(rank)
		require.False(t, seen[v], "value %d returned twice", v)
		seen[v] = true
		require.Equal(t, 255-i, tr.Len())
	}
	// One survivor remains at rank 0.
	last := tr.Take(0)
	require.False(t, seen[last])
	seen[last] = true
	require.Len(t, seen, 256)
}

func TestTakeRespectsInOrderRank(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := New(rng.Uint32)
	// Rank 0 must always be the smallest remaining value: 0.
	require.Equal(t, byte(0), tr.Take(0))
	// Rank 0 is now 1, the new smallest.
	require.Equal(t, byte(1), tr.Take(0))
	// Taking the last rank returns the current maximum (255).
	require.Equal(t, byte(255), tr.Take(tr.Len()-1))
}
