// Package zstdcodec wraps klauspost/compress/zstd for MKAR's per-entry
// compression step.
package zstdcodec

import (
	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"
)

// Level is the fixed compression level MKAR encodes at. klauspost/compress
// only exposes four named tiers rather than zstd's 1-22 integer scale;
// SpeedBetterCompression sits in the upper-middle of the range, favoring
// ratio over speed.
const Level = zstd.SpeedBetterCompression

// Compress returns the zstd frame for data. Empty input still yields a full
// frame (with a content size of zero), so Decompress accepts it.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(Level), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, xerrors.Errorf("zstdcodec: new encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decompress reverses Compress. It rejects frames that don't declare their
// decompressed content size up front, which would otherwise force an
// unbounded resize loop while decoding.
func Decompress(data []byte) ([]byte, error) {
	var header zstd.Header
	if err := header.Decode(data); err != nil {
		return nil, xerrors.Errorf("zstdcodec: decode frame header: %w", err)
	}
	if !header.HasFCS {
		return nil, xerrors.Errorf("zstdcodec: frame is missing a content size")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.Errorf("zstdcodec: new decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, make([]byte, 0, header.FrameContentSize))
	if err != nil {
		return nil, xerrors.Errorf("zstdcodec: decompress: %w", err)
	}
	return out, nil
}
