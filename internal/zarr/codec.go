package zarr

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses chunk payloads. Encoder and decoder are
// created once and reused; EncodeAll/DecodeAll are safe for concurrent use.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec returns a zstd codec at the given numeric zstd level.
func NewCodec(level int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Compress returns the zstd frame for raw.
func (c *Codec) Compress(raw []byte) []byte {
	return c.enc.EncodeAll(raw, nil)
}

// Decompress expands a zstd frame.
func (c *Codec) Decompress(compressed []byte) ([]byte, error) {
	raw, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return raw, nil
}
