package flasher

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/JoshuaDoes/odin-flash/archive"
	"github.com/JoshuaDoes/odin-flash/compress/gzipstream"
	"github.com/JoshuaDoes/odin-flash/compress/lz4stream"
	"github.com/JoshuaDoes/odin-flash/pit"
	"github.com/JoshuaDoes/odin-flash/transfer"
)

// Firmware is a loaded archive: its member list, optional outer MD5,
// and optional embedded PIT bytes.
type Firmware struct {
	Members     []archive.Member
	MD5         string
	EmbeddedPit []byte

	source archive.ReaderAt
	tarEnd int64
}

// LoadFirmware runs the archive reader over src (total bytes long),
// surfacing the member list, any embedded outer MD5, and any embedded
// PIT (a member named "*.pit"). Fails with *archive.FormatError.
func LoadFirmware(src archive.ReaderAt, total int64) (*Firmware, error) {
	a, err := archive.Parse(src, total)
	if err != nil {
		return nil, err
	}

	fw := &Firmware{MD5: a.MD5, source: src, tarEnd: a.TarEnd}
	for _, m := range a.Members {
		if strings.HasSuffix(strings.ToLower(m.Name), ".pit") {
			body := archive.Body(src, m)
			data, err := io.ReadAll(body)
			if err != nil {
				return nil, fmt.Errorf("flasher: read embedded pit %q: %w", m.Name, err)
			}
			fw.EmbeddedPit = data
			continue
		}
		fw.Members = append(fw.Members, m)
	}
	return fw, nil
}

// Flashable reports whether a member should be sent to the device:
// metadata and .zip members are excluded, as are zero-length bodies
// (a zero-size member has nothing to activate/finalize a transfer for).
func Flashable(m archive.Member) bool {
	if m.Size == 0 {
		return false
	}
	lower := strings.ToLower(m.Name)
	if strings.Contains(lower, "meta-data/") {
		return false
	}
	if strings.HasSuffix(lower, ".zip") {
		return false
	}
	return true
}

// CompressionOf derives a member's compression kind from its name.
func CompressionOf(m archive.Member) transfer.Compression {
	lower := strings.ToLower(m.Name)
	switch {
	case strings.HasSuffix(lower, ".lz4"):
		return transfer.CompressionLZ4
	case strings.HasSuffix(lower, ".gz"):
		return transfer.CompressionGzip
	default:
		return transfer.CompressionNone
	}
}

// EstimatedSize returns a rough post-decompression size of m from the
// ×4 (LZ4) / ×3 (GZIP) expansion ratios. Flash does not use it: the
// session-open byte count comes from measureDecompressedSize.
func EstimatedSize(m archive.Member) uint64 {
	switch CompressionOf(m) {
	case transfer.CompressionLZ4:
		return uint64(m.Size) * lz4stream.EstimateRatio
	case transfer.CompressionGzip:
		return uint64(m.Size) * gzipstream.EstimateRatio
	default:
		return uint64(m.Size)
	}
}

// ParsePit decodes raw PIT bytes (such as fw.EmbeddedPit) into a table;
// it is a thin wrapper over pit.Parse.
func ParsePit(data []byte) (*pit.Table, error) {
	return pit.Parse(data)
}

// VerifyMD5 recomputes the MD5 of fw's TAR region and compares it to
// fw.MD5. It is optional, caller-invoked verification and is never run
// automatically during Flash.
func VerifyMD5(fw *Firmware) error {
	if fw.MD5 == "" {
		return fmt.Errorf("flasher: no outer md5 present to verify against")
	}
	section := io.NewSectionReader(fw.source, 0, fw.tarEnd)
	h := md5.New()
	if _, err := io.Copy(h, section); err != nil {
		return fmt.Errorf("flasher: verify md5: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != fw.MD5 {
		return &MD5MismatchError{Want: fw.MD5, Got: got}
	}
	return nil
}

// MD5MismatchError indicates a firmware archive's recomputed MD5
// didn't match its embedded outer digest.
type MD5MismatchError struct {
	Want, Got string
}

func (e *MD5MismatchError) Error() string {
	return fmt.Sprintf("flasher: md5 mismatch: want %s, got %s", e.Want, e.Got)
}
