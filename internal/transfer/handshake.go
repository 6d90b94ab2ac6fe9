package transfer

import (
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/sheerbytes/fragd/internal/checksum"
	"github.com/sheerbytes/fragd/internal/progress"
	"github.com/sheerbytes/fragd/pkg/protocol"
)

// AcceptHandshake parses the first datagram of a session, opens (creating or
// truncating) the destination file, allocates the reply channel and acks the
// client from it. On error nothing acquired is left open.
func AcceptHandshake(opts Options, datagram []byte, client net.Addr) (*Session, error) {
	opts = NormalizeOptions(opts)

	hs, err := protocol.DecodeHandshake(datagram)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if !checksum.Valid(hs.FileMD5) {
		return nil, fmt.Errorf("%w: %w: file_md5 %q is not an md5 hex digest", ErrHandshake, protocol.ErrInvalidField, hs.FileMD5)
	}
	if hs.FilePackets > opts.MaxFragments {
		return nil, fmt.Errorf("%w: %w: file_packets %d exceeds limit %d", ErrHandshake, protocol.ErrInvalidField, hs.FilePackets, opts.MaxFragments)
	}

	file, dest, err := opts.Destination.Open(hs.FilePath, hs.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	s := &Session{
		ID:             uuid.NewString(),
		Filename:       hs.Filename,
		Dir:            hs.FilePath,
		Path:           dest,
		ExpectedMD5:    hs.FileMD5,
		TotalFragments: hs.FilePackets,
		Client:         client,
		opts:           opts,
		accepted:       NewBitmap(int(hs.FilePackets)),
		state:          StateAwaitingFragment,
		meter:          progress.NewMeter(opts.Clock),
		file:           file,
	}
	s.logger = opts.Logger.With(
		"session_id", s.ID,
		"client", addrString(client),
		"filename", s.Filename,
	)

	s.conn, err = opts.Listen()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: allocate reply channel: %v", ErrHandshake, err)
	}

	ack, err := protocol.Encode(protocol.Ack{Filename: hs.Filename, Status: protocol.StatusAck})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if _, err := s.conn.WriteTo(ack, client); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: send ack: %v", ErrHandshake, err)
	}

	s.startedAt = opts.Clock.Now()
	s.lastLog = s.startedAt
	s.meter.Start()
	s.logger.Info("session started",
		"path", dest,
		"fragments", hs.FilePackets,
		"reply_addr", s.conn.LocalAddr().String(),
	)
	return s, nil
}
