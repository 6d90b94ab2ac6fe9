package transfer

import "fmt"

// writeAt places body at offset in the destination file, extending it as
// needed.
func (s *Session) writeAt(offset int64, body []byte) error {
	if s.file == nil {
		return fmt.Errorf("%w: file closed", ErrIO)
	}
	if _, err := s.file.WriteAt(body, offset); err != nil {
		return fmt.Errorf("%w: write at %d: %v", ErrIO, offset, err)
	}
	return nil
}
