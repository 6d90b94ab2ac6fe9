package protocol

// Wire constants shared by the receiver and the reference sender.
const (
	// StatusAck is the only status value a handshake reply carries.
	StatusAck = "ack"

	// MaxDatagramSize is the receive buffer for every datagram, sized to a
	// typical Ethernet frame.
	MaxDatagramSize = 1500

	// DefaultBodySize is the fragment payload size that still fits in
	// MaxDatagramSize once base64-encoded alongside the JSON field overhead.
	DefaultBodySize = 1024

	// MaxBodySize is the largest raw body that fits after base64 expansion.
	MaxBodySize = 1040
)
