// Package mask implements the MKAR byte-stream obfuscation transform: a
// permutation of [0,255] generated (or decoded) via internal/permtreap and
// serialized compactly via internal/bitio, plus three versioned variants of
// a reversible byte-shuffling transform parameterized by that permutation.
package mask

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/big"
	"math/rand"

	"golang.org/x/xerrors"

	"github.com/mkar-fmt/mkar/internal/bitio"
	"github.com/mkar-fmt/mkar/internal/permtreap"
)

// Version selects the mask variant. It is carried out-of-band by the
// container (it equals the archive's standard version), never stored
// per-entry.
type Version uint16

const (
	V0 Version = 0
	V1 Version = 1
	V2 Version = 2
)

// Mask holds one permutation of [0,255] and its inverse, plus the version
// that selects which transform variant Mask/Unmask apply.
type Mask struct {
	Version  Version
	Mapping  [256]byte
	RMapping [256]byte
}

// widthForIndex returns the bit width used to emit/consume the rank at
// permutation-construction step i (0-indexed, i in [0,254]). The schedule
// halves the remaining emit budget at 128, 64, 32, 16, 8, 4, 2, 1 values,
// starting at width 8 and shrinking by one bit per band.
func widthForIndex(i int) uint {
	switch {
	case i < 128:
		return 8
	case i < 192:
		return 7
	case i < 224:
		return 6
	case i < 240:
		return 5
	case i < 248:
		return 4
	case i < 252:
		return 3
	case i < 254:
		return 2
	default:
		return 1
	}
}

// cryptoIntn returns a uniformly random integer in [0,n) drawn from a CSPRNG,
// as recommended for the packer's permutation generator in the design notes.
func cryptoIntn(n int) (int, error) {
	v, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// GenerateAndEncode draws a fresh random permutation of [0,255] and writes
// its bit-packed rank encoding to bw. The ranks are drawn from a CSPRNG; the
// treap's internal balancing priorities are not security sensitive (Take's
// result depends only on rank and remaining membership, never on treap
// shape) so they are seeded from the same CSPRNG draw for convenience.
func GenerateAndEncode(version Version, bw *bitio.Writer) (*Mask, error) {
	var seedBuf [8]byte
	if _, err := cryptorand.Read(seedBuf[:]); err != nil {
		return nil, err
	}
	prio := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seedBuf[:]))))
	treap := permtreap.New(prio.Uint32)

	m := &Mask{Version: version}
	for i := 0; i < 255; i++ {
		ord, err := cryptoIntn(256 - i)
		if err != nil {
			return nil, err
		}
		if err := bw.WriteBits(uint32(ord), widthForIndex(i)); err != nil {
			return nil, err
		}
		c := treap.Take(ord)
		m.Mapping[i] = c
		m.RMapping[c] = byte(i)
	}
	last := treap.Take(0)
	m.Mapping[255] = last
	m.RMapping[last] = 255
	return m, nil
}

// DecodePermutation reads a bit-packed rank encoding written by
// GenerateAndEncode and reconstructs the same mapping/rmapping.
func DecodePermutation(version Version, br *bitio.Reader) (*Mask, error) {
	treap := permtreap.New(rand.New(rand.NewSource(1)).Uint32)

	m := &Mask{Version: version}
	for i := 0; i < 255; i++ {
		ord, err := br.ReadBits(widthForIndex(i))
		if err != nil {
			return nil, err
		}
		if int(ord) >= 256-i {
			return nil, xerrors.Errorf("mask: invalid rank %d at step %d", ord, i)
		}
		c := treap.Take(int(ord))
		m.Mapping[i] = c
		m.RMapping[c] = byte(i)
	}
	last := treap.Take(0)
	m.Mapping[255] = last
	m.RMapping[last] = 255
	return m, nil
}

// Mask applies the forward transform in place and returns buf.
func (m *Mask) Mask(buf []byte) []byte {
	switch m.Version {
	case V0:
		prefixSumForward(buf)
		substitute(buf, m.Mapping[:])
		xorChainForward(buf)
		fenwickForward(buf)
	case V1:
		prefixSumForward(buf)
		substitute(buf, m.Mapping[:])
		k := lcgKeystream(len(buf))
		addKeystreamForward(buf, func(i int) byte { return k[i] })
		xorChainForward(buf)
		fenwickForward(buf)
	case V2:
		k := m.v2Keystream(len(buf))
		addKeystreamForward(buf, func(i int) byte { return k[i] })
		v2AccPassForward(buf, m.Mapping[:])
		substitute(buf, m.Mapping[:])
		xorChainForward(buf)
		fenwickForward(buf)
	}
	return buf
}

// Unmask applies the inverse transform in place and returns buf.
func (m *Mask) Unmask(buf []byte) []byte {
	switch m.Version {
	case V0:
		fenwickInverse(buf)
		xorChainInverse(buf)
		substitute(buf, m.RMapping[:])
		prefixSumInverse(buf)
	case V1:
		fenwickInverse(buf)
		xorChainInverse(buf)
		k := lcgKeystream(len(buf))
		addKeystreamInverse(buf, func(i int) byte { return k[i] })
		substitute(buf, m.RMapping[:])
		prefixSumInverse(buf)
	case V2:
		fenwickInverse(buf)
		xorChainInverse(buf)
		substitute(buf, m.RMapping[:])
		v2AccPassInverse(buf, m.RMapping[:])
		k := m.v2Keystream(len(buf))
		addKeystreamInverse(buf, func(i int) byte { return k[i] })
	}
	return buf
}

func substitute(buf []byte, table []byte) {
	for i := range buf {
		buf[i] = table[buf[i]]
	}
}

func prefixSumForward(buf []byte) {
	for i := 1; i < len(buf); i++ {
		buf[i] += buf[i-1]
	}
}

func prefixSumInverse(buf []byte) {
	for i := len(buf) - 1; i >= 1; i-- {
		buf[i] -= buf[i-1]
	}
}

func xorChainForward(buf []byte) {
	for i := 1; i < len(buf); i++ {
		buf[i] ^= buf[i-1]
	}
}

func xorChainInverse(buf []byte) {
	for i := len(buf) - 1; i >= 1; i-- {
		buf[i] ^= buf[i-1]
	}
}

func fenwickForward(buf []byte) {
	for i := len(buf) - 1; i >= 1; i-- {
		lb := uint(i+1) & -uint(i+1)
		if lb != uint(i+1) {
			buf[i] ^= buf[i-int(lb)]
		}
	}
}

func fenwickInverse(buf []byte) {
	for i := 1; i < len(buf); i++ {
		lb := uint(i+1) & -uint(i+1)
		if lb != uint(i+1) {
			buf[i] ^= buf[i-int(lb)]
		}
	}
}

// lcgKeystream returns the v1 position-dependent additive stream of length
// n: e_0 = 1, e_{i+1} = (e_i * 101) mod 256.
func lcgKeystream(n int) []byte {
	out := make([]byte, n)
	e := byte(1)
	for i := 0; i < n; i++ {
		out[i] = e
		e *= 101
	}
	return out
}

func addKeystreamForward(buf []byte, stream func(i int) byte) {
	for i := range buf {
		buf[i] += stream(i)
	}
}

func addKeystreamInverse(buf []byte, stream func(i int) byte) {
	for i := range buf {
		buf[i] -= stream(i)
	}
}

// v2AccPassForward is v2's second pass: a running accumulator seeded to 10,
// substituting through mapping and folding the result back into the
// accumulator.
func v2AccPassForward(buf []byte, mapping []byte) {
	acc := byte(10)
	for i := range buf {
		t := buf[i] + acc
		buf[i] = mapping[t]
		acc ^= buf[i]
	}
}

// v2AccPassInverse mirrors v2AccPassForward, using the pre-overwrite value y
// (the still-masked byte) to update acc, exactly as the forward pass used
// the post-mapping byte.
func v2AccPassInverse(buf []byte, rmapping []byte) {
	acc := byte(10)
	for i := range buf {
		y := buf[i]
		x := rmapping[y] - acc
		buf[i] = x
		acc ^= y
	}
}
