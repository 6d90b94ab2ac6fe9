package transfer

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sheerbytes/fragd/internal/checksum"
)

var errNotComplete = errors.New("verify before all fragments were accepted")

// Verify streams the assembled file from the start and compares its digest
// with the handshake's file_md5. The file is kept whatever the result.
func (s *Session) Verify() error {
	if !s.Complete() {
		return sessionError(ReasonIO, errNotComplete)
	}
	if s.file == nil {
		return sessionError(ReasonIO, fmt.Errorf("%w: file closed", ErrIO))
	}
	s.verified = true

	sum, err := checksum.SumReader(io.NewSectionReader(s.file, 0, math.MaxInt64))
	if err != nil {
		return sessionError(ReasonIO, fmt.Errorf("%w: %v", ErrIO, err))
	}
	if !checksum.Equal(sum, s.ExpectedMD5) {
		return sessionError(ReasonChecksumMismatch,
			fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, s.ExpectedMD5))
	}
	return nil
}
