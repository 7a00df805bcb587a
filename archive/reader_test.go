package archive

import (
	"bytes"
	"fmt"
	"testing"
)

// buildTar assembles a minimal USTAR byte stream for the given
// (name, body) pairs, followed by the standard double zero-block
// terminator.
func buildTar(members [][2]string) []byte {
	var buf bytes.Buffer
	for _, m := range members {
		name, body := m[0], m[1]
		header := make([]byte, blockSize)
		copy(header, name)
		sizeOctal := fmt.Sprintf("%011o", len(body))
		copy(header[sizeFieldStart:sizeFieldEnd], sizeOctal)
		buf.Write(header)
		buf.WriteString(body)
		pad := (blockSize - len(body)%blockSize) % blockSize
		buf.Write(make([]byte, pad))
	}
	buf.Write(make([]byte, blockSize*2))
	return buf.Bytes()
}

func TestParseMembers(t *testing.T) {
	data := buildTar([][2]string{
		{"boot.img", "bootdata"},
		{"recovery.img.lz4", "recoverydata"},
		{"system.tar", "nested"},
	})
	r := bytes.NewReader(data)

	a, err := Parse(r, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(a.Members) != 3 {
		t.Fatalf("got %d members, want 3", len(a.Members))
	}
	if a.Members[0].Name != "boot.img" || a.Members[0].Size != int64(len("bootdata")) {
		t.Errorf("member 0 = %+v", a.Members[0])
	}
	if !a.Members[2].IsNested {
		t.Errorf("system.tar should be marked nested")
	}
	if a.Members[0].IsNested {
		t.Errorf("boot.img should not be marked nested")
	}
}

func TestParseBodyRange(t *testing.T) {
	data := buildTar([][2]string{{"a.bin", "hello world"}})
	r := bytes.NewReader(data)

	a, err := Parse(r, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	body := Body(r, a.Members[0])
	got := make([]byte, a.Members[0].Size)
	if _, err := body.Read(got); err != nil {
		t.Fatalf("Read body: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("body = %q, want %q", got, "hello world")
	}
}

func TestParseTrailingMD5(t *testing.T) {
	data := buildTar([][2]string{{"boot.img", "x"}})
	data = append(data, []byte("0123456789abcdef0123456789abcdef  firmware.tar.md5\n")...)

	r := bytes.NewReader(data)
	a, err := Parse(r, int64(len(data)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.MD5 != "0123456789abcdef0123456789abcdef" {
		t.Errorf("MD5 = %q", a.MD5)
	}
}

func TestParseTruncatedMember(t *testing.T) {
	data := buildTar([][2]string{{"boot.img", "hello"}})
	truncated := data[:blockSize+2]
	r := bytes.NewReader(truncated)

	_, err := Parse(r, int64(len(truncated)))
	if err == nil {
		t.Fatal("expected error for truncated member")
	}
	if _, ok := err.(*FormatError); !ok {
		t.Fatalf("err = %T, want *FormatError", err)
	}
}
