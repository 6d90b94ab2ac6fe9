package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingField indicates a required field was absent or null.
	ErrMissingField = errors.New("missing field")
	// ErrInvalidField indicates a field was present but out of range.
	ErrInvalidField = errors.New("invalid field")
)

// Handshake is the first datagram of a session. It describes the file the
// client is about to send.
type Handshake struct {
	Filename    string `json:"filename"`
	FileMD5     string `json:"file_md5"`
	FilePath    string `json:"file_path"`
	FilePackets int64  `json:"file_packets"`
}

// Ack is the server's reply to an accepted handshake. It is sent from the
// session's reply channel, so its source address is where fragments go.
type Ack struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// Fragment carries one piece of the file. Body is raw bytes on the Go side
// and base64 text on the wire.
type Fragment struct {
	Index  int64  `json:"packet_index"`
	Offset int64  `json:"packet_offset"`
	Body   []byte `json:"body"`
	MD5    string `json:"packet_md5"`
}

// handshakeWire mirrors Handshake with pointer fields so absent keys can be
// told apart from zero values.
type handshakeWire struct {
	Filename    *string `json:"filename"`
	FileMD5     *string `json:"file_md5"`
	FilePath    *string `json:"file_path"`
	FilePackets *int64  `json:"file_packets"`
}

type fragmentWire struct {
	Index  *int64  `json:"packet_index"`
	Offset *int64  `json:"packet_offset"`
	Body   *[]byte `json:"body"`
	MD5    *string `json:"packet_md5"`
}

// DecodeHandshake parses and structurally validates a handshake datagram.
func DecodeHandshake(data []byte) (Handshake, error) {
	var w handshakeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Handshake{}, fmt.Errorf("decode handshake: %w", err)
	}
	switch {
	case w.Filename == nil:
		return Handshake{}, fmt.Errorf("%w: filename", ErrMissingField)
	case w.FileMD5 == nil:
		return Handshake{}, fmt.Errorf("%w: file_md5", ErrMissingField)
	case w.FilePath == nil:
		return Handshake{}, fmt.Errorf("%w: file_path", ErrMissingField)
	case w.FilePackets == nil:
		return Handshake{}, fmt.Errorf("%w: file_packets", ErrMissingField)
	}
	if *w.FilePackets < 1 {
		return Handshake{}, fmt.Errorf("%w: file_packets must be positive, got %d", ErrInvalidField, *w.FilePackets)
	}
	return Handshake{
		Filename:    *w.Filename,
		FileMD5:     *w.FileMD5,
		FilePath:    *w.FilePath,
		FilePackets: *w.FilePackets,
	}, nil
}

// DecodeFragment parses and structurally validates a data fragment.
// Range checks against the session (index upper bound) are left to the caller.
func DecodeFragment(data []byte) (Fragment, error) {
	var w fragmentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Fragment{}, fmt.Errorf("decode fragment: %w", err)
	}
	switch {
	case w.Index == nil:
		return Fragment{}, fmt.Errorf("%w: packet_index", ErrMissingField)
	case w.Offset == nil:
		return Fragment{}, fmt.Errorf("%w: packet_offset", ErrMissingField)
	case w.Body == nil:
		return Fragment{}, fmt.Errorf("%w: body", ErrMissingField)
	case w.MD5 == nil:
		return Fragment{}, fmt.Errorf("%w: packet_md5", ErrMissingField)
	}
	if *w.Index < 1 {
		return Fragment{}, fmt.Errorf("%w: packet_index must be >= 1, got %d", ErrInvalidField, *w.Index)
	}
	if *w.Offset < 0 {
		return Fragment{}, fmt.Errorf("%w: packet_offset must be >= 0, got %d", ErrInvalidField, *w.Offset)
	}
	return Fragment{
		Index:  *w.Index,
		Offset: *w.Offset,
		Body:   *w.Body,
		MD5:    *w.MD5,
	}, nil
}

// DecodeAck parses a handshake reply.
func DecodeAck(data []byte) (Ack, error) {
	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return Ack{}, fmt.Errorf("decode ack: %w", err)
	}
	if ack.Status != StatusAck {
		return Ack{}, fmt.Errorf("%w: status %q", ErrInvalidField, ack.Status)
	}
	return ack, nil
}

// Encode marshals any protocol message for the wire.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return data, nil
}
