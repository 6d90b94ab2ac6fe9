package transfer

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/sheerbytes/fragd/internal/progress"
)

const (
	DefaultTimeout      = 3 * time.Second
	DefaultRetryBudget  = 5
	DefaultMaxFragments = 1 << 22
)

// Options configure how sessions are opened and driven.
type Options struct {
	Destination Destination
	// Timeout bounds each wait for the next fragment.
	Timeout time.Duration
	// RetryBudget is the number of consecutive non-progress events tolerated;
	// the session fails on the one after that.
	RetryBudget int
	// MaxFragments caps file_packets so a handshake cannot demand an
	// arbitrarily large bitmap.
	MaxFragments int64
	// Listen allocates the reply channel for a new session.
	Listen   func() (net.PacketConn, error)
	Logger   *slog.Logger
	Clock    clock.Clock
	Observer Observer
}

// NormalizeOptions applies defaults.
func NormalizeOptions(o Options) Options {
	out := o
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.RetryBudget < 0 {
		out.RetryBudget = 0
	}
	if out.MaxFragments <= 0 {
		out.MaxFragments = DefaultMaxFragments
	}
	if out.Destination.Policy == "" {
		out.Destination.Policy = PolicyConfine
	}
	if out.Listen == nil {
		out.Listen = func() (net.PacketConn, error) {
			return net.ListenPacket("udp", ":0")
		}
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.DiscardHandler)
	}
	if out.Clock == nil {
		out.Clock = clock.New()
	}
	if out.Observer == nil {
		out.Observer = nopObserver{}
	}
	return out
}

// Observer receives per-fragment events while a session runs.
type Observer interface {
	Admitted(a Admission)
	TimedOut()
}

type nopObserver struct{}

func (nopObserver) Admitted(Admission) {}
func (nopObserver) TimedOut()          {}

// State is the receive loop state.
type State int

const (
	StateAwaitingFragment State = iota
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFragment:
		return "awaiting_fragment"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one in-flight transfer. It is owned by a single goroutine;
// only Progress may be called from elsewhere.
type Session struct {
	ID             string
	Filename       string
	Dir            string
	Path           string
	ExpectedMD5    string
	TotalFragments int64
	Client         net.Addr

	opts     Options
	logger   *slog.Logger
	file     *os.File
	conn     net.PacketConn
	accepted *Bitmap
	failures int
	state    State
	verified bool

	acceptedN atomic.Int64
	meter     *progress.Meter
	startedAt time.Time
	lastLog   time.Time
}

// State returns the current loop state.
func (s *Session) State() State {
	return s.state
}

// Accepted returns the number of accepted fragments.
func (s *Session) Accepted() int64 {
	return s.acceptedN.Load()
}

// Failures returns the consecutive non-progress count.
func (s *Session) Failures() int {
	return s.failures
}

// Complete reports whether every declared index has been accepted.
func (s *Session) Complete() bool {
	return s.accepted.Full()
}

// LocalAddr is the reply channel address fragments must be sent to.
func (s *Session) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Close releases the file and the reply channel. It is safe to call more
// than once and on a partially constructed session.
func (s *Session) Close() error {
	var errs []error
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, err)
		}
		s.file = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
		s.conn = nil
	}
	return errors.Join(errs...)
}

// Progress is a point-in-time view of a running session.
type Progress struct {
	SessionID string    `json:"session_id"`
	Client    string    `json:"client"`
	Filename  string    `json:"filename"`
	Accepted  int64     `json:"accepted"`
	Total     int64     `json:"total"`
	Bytes     int64     `json:"bytes"`
	RateBps   float64   `json:"rate_bps"`
	StartedAt time.Time `json:"started_at"`
}

// Progress may be called concurrently with Run.
func (s *Session) Progress() Progress {
	stats := s.meter.Snapshot()
	return Progress{
		SessionID: s.ID,
		Client:    addrString(s.Client),
		Filename:  s.Filename,
		Accepted:  s.acceptedN.Load(),
		Total:     s.TotalFragments,
		Bytes:     stats.BytesDone,
		RateBps:   stats.RateBps,
		StartedAt: s.startedAt,
	}
}

// Outcome is the single terminal report for a session.
type Outcome struct {
	SessionID string
	Client    string
	Filename  string
	Path      string
	Success   bool
	Reason    Reason
	Err       error
	Accepted  int64
	Total     int64
	Bytes     int64
	RateBps   float64
	StartedAt time.Time
	Duration  time.Duration
}

// Reporter receives session outcomes.
type Reporter interface {
	Report(o Outcome)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(o Outcome)

func (f ReporterFunc) Report(o Outcome) { f(o) }

// Reporters fans one outcome out to several reporters in order.
type Reporters []Reporter

func (rs Reporters) Report(o Outcome) {
	for _, r := range rs {
		if r != nil {
			r.Report(o)
		}
	}
}

// Outcome builds the terminal report from the error returned by Run.
func (s *Session) Outcome(runErr error) Outcome {
	stats := s.meter.Snapshot()
	return Outcome{
		SessionID: s.ID,
		Client:    addrString(s.Client),
		Filename:  s.Filename,
		Path:      s.Path,
		Success:   runErr == nil && s.verified,
		Reason:    ReasonOf(runErr),
		Err:       runErr,
		Accepted:  s.acceptedN.Load(),
		Total:     s.TotalFragments,
		Bytes:     stats.BytesDone,
		RateBps:   stats.RateBps,
		StartedAt: s.startedAt,
		Duration:  s.opts.Clock.Now().Sub(s.startedAt),
	}
}

// HandshakeOutcome reports a session that never got past its first datagram.
func HandshakeOutcome(client net.Addr, err error, now time.Time) Outcome {
	return Outcome{
		Client:    addrString(client),
		Reason:    ReasonHandshake,
		Err:       err,
		StartedAt: now,
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
