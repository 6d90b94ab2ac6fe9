// Package checksum computes the MD5 digests used by the wire protocol, both
// for single fragment bodies and for whole files streamed from disk.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// ChunkSize is the read size used when streaming a file through the hash.
const ChunkSize = 64 * 1024

// Sum returns the lowercase hex MD5 of data.
func Sum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SumReader streams r through MD5 in ChunkSize reads.
func SumReader(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal compares two hex digests ignoring case and surrounding space.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Valid reports whether s looks like a hex MD5 digest.
func Valid(s string) bool {
	if len(s) != hex.EncodedLen(md5.Size) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
