package transfer

import (
	"io"

	"github.com/JoshuaDoes/odin-flash/compress/gzipstream"
	"github.com/JoshuaDoes/odin-flash/compress/lz4stream"
)

// Compression identifies how a member's bytes must be inflated before
// they reach the pipeline.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionGzip
)

// DecompressedSource wraps raw into a Reader yielding its decompressed
// bytes, streaming the underlying block-callback decoder through an
// io.Pipe so memory use stays bounded by the decoder's own block size
// rather than the member's full decompressed length.
func DecompressedSource(raw io.Reader, kind Compression) io.Reader {
	if kind == CompressionNone {
		return raw
	}

	pr, pw := io.Pipe()
	go func() {
		var err error
		switch kind {
		case CompressionLZ4:
			err = lz4stream.Decode(raw, func(block []byte) error {
				_, werr := pw.Write(block)
				return werr
			})
		case CompressionGzip:
			err = gzipstream.Decode(raw, func(block []byte) error {
				_, werr := pw.Write(block)
				return werr
			})
		}
		pw.CloseWithError(err)
	}()
	return pr
}
