package archive

import "io"

// Sub opens a second-pass reader over a nested member's byte range,
// letting a marked member (m.IsNested) be parsed as its own archive.
func Sub(r ReaderAt, m Member) (*Archive, error) {
	section := io.NewSectionReader(r, m.DataOffset, m.Size)
	return Parse(section, m.Size)
}
