// Package lz4stream streams an LZ4-framed payload through a
// bounded-memory decoder, delivering decompressed blocks to a callback
// rather than materializing the entire output. Frame and block decoding
// itself is delegated to github.com/pierrec/lz4/v4; this package owns
// only the streaming/callback discipline.
package lz4stream

import (
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// blockSize is the read chunk pulled from the underlying lz4.Reader on
// each iteration; it bounds how much decompressed data is produced
// before the callback has a chance to drain it.
const blockSize = 256 * 1024

// BlockFunc receives one decompressed block. It must not retain the
// slice past the call; the buffer is reused on the next iteration.
type BlockFunc func(block []byte) error

// Decode streams src's LZ4-framed content through fn block by block.
// Each callback receives at most blockSize decompressed bytes; the
// underlying lz4.Reader also buffers the LZ4 frame block it is decoding.
func Decode(src io.Reader, fn BlockFunc) error {
	zr := lz4.NewReader(src)
	buf := make([]byte, blockSize)

	var position int64
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			if cbErr := fn(buf[:n]); cbErr != nil {
				return fmt.Errorf("lz4stream: callback: %w", cbErr)
			}
			position += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &DecompressionError{StreamPosition: position, Reason: err.Error(), Err: err}
		}
	}
}

// DecompressionError reports a decode failure partway through a stream,
// tagged with how many decompressed bytes were delivered before it and
// why the underlying frame decoder gave up.
type DecompressionError struct {
	StreamPosition int64
	Reason         string
	Err            error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("lz4stream: decompression failed at stream position %d: %s", e.StreamPosition, e.Reason)
}

func (e *DecompressionError) Unwrap() error {
	return e.Err
}

// EstimateRatio is the rough expansion factor used when a member's
// post-decompression size is estimated ahead of time without decoding
// it.
const EstimateRatio = 4
