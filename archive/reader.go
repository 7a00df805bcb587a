// Package archive implements a streaming reader for the POSIX USTAR
// container used by Samsung firmware packages, including the
// Odin-specific ".tar.md5" trailing-digest convention. Member bodies
// are never materialized by the reader; callers obtain them on demand
// through a random-access byte range over the backing file.
package archive

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	blockSize      = 512
	nameFieldSize  = 100
	sizeFieldStart = 124
	sizeFieldEnd   = 136
)

// nestedSuffixes mark a member as a candidate nested archive.
var nestedSuffixes = []string{".tar", ".ap", ".bl", ".cp", ".csc"}

// Member describes one TAR entry without owning its body.
type Member struct {
	Name       string
	Size       int64
	DataOffset int64
	IsNested   bool
}

// Archive is a parsed member list plus the optional outer MD5 tail.
type Archive struct {
	Members []Member
	MD5     string // 32-hex-lowercase, empty if absent
	TarEnd  int64  // byte offset where the TAR region ends, excluding any trailing MD5 line
}

// ReaderAt is the random-access source archive bodies are read from.
type ReaderAt interface {
	io.ReaderAt
}

// Parse scans r, which has size total bytes, producing member
// descriptors without reading any member body. Any structural
// violation is a *FormatError.
func Parse(r ReaderAt, total int64) (*Archive, error) {
	a := &Archive{}

	var offset int64
	header := make([]byte, blockSize)

	for offset+blockSize <= total {
		n, err := r.ReadAt(header, offset)
		if err != nil && err != io.EOF {
			return nil, &FormatError{Reason: fmt.Sprintf("read header at %d: %v", offset, err)}
		}
		if n < blockSize {
			break
		}
		if isZeroBlock(header) {
			offset += blockSize
			// Consume the rest of the zero-block terminator (and any
			// record padding) so TarEnd lands after it.
			for offset+blockSize <= total {
				if n, _ := r.ReadAt(header, offset); n < blockSize || !isZeroBlock(header) {
					break
				}
				offset += blockSize
			}
			break
		}

		name := trimNullASCII(header[:nameFieldSize])
		if name == "" {
			break
		}
		size, err := parseOctalSize(header[sizeFieldStart:sizeFieldEnd])
		if err != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("member %q: %v", name, err)}
		}

		dataOffset := offset + blockSize
		if dataOffset+size > total {
			return nil, &FormatError{Reason: fmt.Sprintf("member %q: size %d exceeds archive bounds", name, size)}
		}

		a.Members = append(a.Members, Member{
			Name:       name,
			Size:       size,
			DataOffset: dataOffset,
			IsNested:   isNested(name),
		})

		paddedSize := ((size + blockSize - 1) / blockSize) * blockSize
		offset = dataOffset + paddedSize
	}

	a.TarEnd = offset
	if md5, ok := tailMD5(r, offset, total); ok {
		a.MD5 = md5
	}

	return a, nil
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func trimNullASCII(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func parseOctalSize(b []byte) (int64, error) {
	s := strings.TrimRight(strings.TrimSpace(string(b)), "\x00")
	s = strings.TrimRight(s, " \x00")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("bad octal size field %q: %w", s, err)
	}
	return v, nil
}

func isNested(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, ".tar.") {
		return true
	}
	for _, suf := range nestedSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

// tailMD5 looks for a trailing "<32-hex>  <filename>\n" line beyond the
// TAR region (the Samsung .tar.md5 convention).
func tailMD5(r ReaderAt, tarEnd, total int64) (string, bool) {
	remaining := total - tarEnd
	if remaining <= 0 || remaining > 4096 {
		return "", false
	}
	tail := make([]byte, remaining)
	if _, err := r.ReadAt(tail, tarEnd); err != nil && err != io.EOF {
		return "", false
	}
	line := strings.TrimRight(string(tail), "\x00\n ")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", false
	}
	hex := fields[0]
	if len(hex) != 32 || !isHex(hex) {
		return "", false
	}
	return strings.ToLower(hex), true
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// Body returns a random-access reader over a member's byte range.
func Body(r ReaderAt, m Member) io.Reader {
	return io.NewSectionReader(r, m.DataOffset, m.Size)
}

// FormatError indicates the archive does not conform to the expected
// TAR structure.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("archive: malformed tar: %s", e.Reason)
}
