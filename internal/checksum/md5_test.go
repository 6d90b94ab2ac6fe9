package checksum

import (
	"bytes"
	"crypto/rand"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestSumKnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"0123456789", "781e5e245d69b566979b86e28d23f2c7"},
		{"01234", "4100c4d44da9177247e44a5fc1546778"},
	}
	for _, tt := range tests {
		if got := Sum([]byte(tt.in)); got != tt.want {
			t.Errorf("Sum(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestSumReaderMatchesSum(t *testing.T) {
	sizes := []int{0, 1, ChunkSize - 1, ChunkSize, ChunkSize + 1, 3*ChunkSize + 17}
	for _, size := range sizes {
		data := make([]byte, size)
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("rand: %v", err)
		}
		got, err := SumReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("SumReader(%d): %v", size, err)
		}
		if want := Sum(data); got != want {
			t.Errorf("size %d: streamed %s, bulk %s", size, got, want)
		}
	}
}

func TestSumReaderShortReads(t *testing.T) {
	data := []byte(strings.Repeat("abc", 5000))
	got, err := SumReader(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	if got != Sum(data) {
		t.Fatalf("one-byte reads changed digest")
	}
}

func TestSumReaderError(t *testing.T) {
	_, err := SumReader(iotest.ErrReader(io.ErrUnexpectedEOF))
	if err == nil {
		t.Fatal("expected read error")
	}
}

func TestEqualAndValid(t *testing.T) {
	if !Equal("781E5E245D69B566979B86E28D23F2C7", "781e5e245d69b566979b86e28d23f2c7") {
		t.Error("Equal should ignore case")
	}
	if Equal("781e5e245d69b566979b86e28d23f2c7", "781e5e245d69b566979b86e28d23f2c8") {
		t.Error("Equal matched different digests")
	}
	if !Valid("781e5e245d69b566979b86e28d23f2c7") {
		t.Error("Valid rejected a digest")
	}
	for _, bad := range []string{"", "xyz", "781e5e245d69b566979b86e28d23f2c", "781e5e245d69b566979b86e28d23f2cz"} {
		if Valid(bad) {
			t.Errorf("Valid(%q) = true", bad)
		}
	}
}
