package flasher

import (
	"fmt"

	"github.com/JoshuaDoes/odin-flash/archive"
	"github.com/JoshuaDoes/odin-flash/compress/gzipstream"
	"github.com/JoshuaDoes/odin-flash/compress/lz4stream"
	"github.com/JoshuaDoes/odin-flash/transfer"
)

// measureDecompressedSize runs the streaming decoder over a member's
// full body once, discarding the decompressed bytes and summing their
// length. This is the exact post-decompression size required for the
// session-open byte count: the ×4/×3 EstimatedSize heuristic is never
// sent on the wire.
func measureDecompressedSize(src archive.ReaderAt, m archive.Member) (uint64, error) {
	kind := CompressionOf(m)
	if kind == transfer.CompressionNone {
		return uint64(m.Size), nil
	}

	var total uint64
	sink := func(block []byte) error {
		total += uint64(len(block))
		return nil
	}

	var err error
	body := archive.Body(src, m)
	switch kind {
	case transfer.CompressionLZ4:
		err = lz4stream.Decode(body, sink)
	case transfer.CompressionGzip:
		err = gzipstream.Decode(body, sink)
	}
	if err != nil {
		return 0, fmt.Errorf("flasher: measure %q: %w", m.Name, err)
	}
	return total, nil
}
