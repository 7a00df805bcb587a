package lz4stream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
)

func lz4Bytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeReassemblesPayload(t *testing.T) {
	payload := strings.Repeat("the quick brown fox jumps over the lazy dog ", 10000)
	data := lz4Bytes(t, payload)

	var out bytes.Buffer
	maxBlock := 0
	err := Decode(bytes.NewReader(data), func(block []byte) error {
		if len(block) > maxBlock {
			maxBlock = len(block)
		}
		out.Write(block)
		return nil
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.String() != payload {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", out.Len(), len(payload))
	}
	if maxBlock > blockSize {
		t.Errorf("callback received block larger than blockSize: %d > %d", maxBlock, blockSize)
	}
}

func TestDecodeInvalidStream(t *testing.T) {
	err := Decode(bytes.NewReader([]byte("not lz4 data at all")), func(block []byte) error { return nil })
	if err == nil {
		t.Fatal("expected error for non-lz4 input")
	}
	de, ok := err.(*DecompressionError)
	if !ok {
		t.Fatalf("err = %T, want *DecompressionError", err)
	}
	if de.StreamPosition != 0 {
		t.Errorf("StreamPosition = %d, want 0 (failure before any block decoded)", de.StreamPosition)
	}
}

func TestDecodeTruncatedStreamReportsPosition(t *testing.T) {
	payload := strings.Repeat("the quick brown fox jumps over the lazy dog ", 10000)
	data := lz4Bytes(t, payload)
	truncated := data[:len(data)-8]

	var delivered int64
	err := Decode(bytes.NewReader(truncated), func(block []byte) error {
		delivered += int64(len(block))
		return nil
	})
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	de, ok := err.(*DecompressionError)
	if !ok {
		t.Fatalf("err = %T, want *DecompressionError", err)
	}
	if de.StreamPosition != delivered {
		t.Errorf("StreamPosition = %d, want %d (bytes delivered before failure)", de.StreamPosition, delivered)
	}
}

func TestDecodeCallbackErrorPropagates(t *testing.T) {
	data := lz4Bytes(t, "short payload")

	err := Decode(bytes.NewReader(data), func(block []byte) error {
		return errTest
	})
	if err == nil {
		t.Fatal("expected callback error to propagate")
	}
}

var errTest = errTestType{}

type errTestType struct{}

func (errTestType) Error() string { return "test callback failure" }
