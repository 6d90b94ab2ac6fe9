// Package transport holds socket-level helpers for the UDP listener.
package transport

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	StatusOK     = "ok"
	StatusNA     = "n/a"
	StatusDenied = "denied"
)

const (
	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024
)

// BufferSetter is the subset of *net.UDPConn used for tuning.
type BufferSetter interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}

// TuneResult reports what was asked of the kernel and whether it agreed.
type TuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

// TuneUDP asks for larger socket buffers. A zero size leaves that direction
// untouched; non-zero sizes are clamped to a sane range. Failures are
// reported, never fatal.
func TuneUDP(conn BufferSetter, r, w int) TuneResult {
	result := TuneResult{Status: StatusNA}
	if r > 0 {
		result.RequestedR = clampUDPBuffer(r)
	}
	if w > 0 {
		result.RequestedW = clampUDPBuffer(w)
	}
	if conn == nil {
		result.Err = "no access to underlying UDP socket"
		return result
	}
	if result.RequestedR == 0 && result.RequestedW == 0 {
		return result
	}

	result.Status = StatusOK
	var errs []string
	if result.RequestedR > 0 {
		if err := conn.SetReadBuffer(result.RequestedR); err != nil {
			errs = append(errs, "read: "+err.Error())
		}
	}
	if result.RequestedW > 0 {
		if err := conn.SetWriteBuffer(result.RequestedW); err != nil {
			errs = append(errs, "write: "+err.Error())
		}
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

// LogAttrs renders the result for structured logging.
func (r TuneResult) LogAttrs() []any {
	attrs := []any{
		slog.String("status", r.Status),
		slog.String("read_buffer", FormatBytesMiB(r.RequestedR)),
		slog.String("write_buffer", FormatBytesMiB(r.RequestedW)),
	}
	if r.Err != "" {
		attrs = append(attrs, slog.String("err", r.Err))
	}
	return attrs
}

func clampUDPBuffer(n int) int {
	if n < minUDPBuffer {
		return minUDPBuffer
	}
	if n > maxUDPBuffer {
		return maxUDPBuffer
	}
	return n
}

// FormatBytesMiB prints whole MiB values as "4MiB" and anything else in bytes.
func FormatBytesMiB(n int) string {
	if n <= 0 {
		return "0B"
	}
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%dMiB", n/mib)
	}
	return fmt.Sprintf("%dB", n)
}
