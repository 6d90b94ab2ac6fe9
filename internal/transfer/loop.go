package transfer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sheerbytes/fragd/internal/bufpool"
	"github.com/sheerbytes/fragd/pkg/protocol"
)

const progressLogInterval = 5 * time.Second

var datagrams = bufpool.New(protocol.MaxDatagramSize)

// Run drives the session until every fragment is accepted and verified, or
// until the retry budget is spent. A timeout and a rejected fragment count
// the same; only an accepted fragment resets the count.
func (s *Session) Run() error {
	bp := datagrams.Get()
	defer datagrams.Put(bp)
	buf := *bp
	for s.state == StateAwaitingFragment {
		n, err := s.receive(buf)
		if err != nil {
			if !isTimeout(err) {
				s.state = StateFailed
				return sessionError(ReasonIO, fmt.Errorf("%w: receive: %v", ErrIO, err))
			}
			s.opts.Observer.TimedOut()
			if err := s.noProgress(ReasonTimeout); err != nil {
				return err
			}
			continue
		}

		adm, err := s.Admit(buf[:n])
		if err != nil {
			s.state = StateFailed
			return sessionError(ReasonIO, err)
		}
		if !adm.Accepted() {
			if err := s.noProgress(adm.Reason); err != nil {
				return err
			}
			continue
		}

		s.failures = 0
		s.logProgress()
		if s.Complete() {
			s.state = StateComplete
		}
	}

	s.logger.Debug("all fragments accepted, verifying", "fragments", s.TotalFragments)
	return s.Verify()
}

// logProgress emits an info line at most once per progressLogInterval.
func (s *Session) logProgress() {
	now := s.opts.Clock.Now()
	if now.Sub(s.lastLog) < progressLogInterval {
		return
	}
	s.lastLog = now
	stats := s.meter.Snapshot()
	s.logger.Info("session progress",
		"accepted", s.acceptedN.Load(),
		"total", s.TotalFragments,
		"bytes", stats.BytesDone,
		"rate_bps", int64(stats.RateBps),
	)
}

// noProgress counts one timeout or rejection and fails the session once the
// count passes the retry budget.
func (s *Session) noProgress(reason Reason) error {
	s.failures++
	if s.failures <= s.opts.RetryBudget {
		return nil
	}
	s.state = StateFailed
	missing := s.accepted.Missing(8)
	s.logger.Debug("retry budget exhausted",
		"last_reason", string(reason),
		"failures", s.failures,
		"accepted", s.accepted.Count(),
		"missing_first", missing,
	)
	return sessionError(ReasonRetryBudget, fmt.Errorf("%w: %d consecutive %s events, %d/%d fragments",
		ErrRetryBudgetExceeded, s.failures, reason, s.accepted.Count(), s.TotalFragments))
}

// receive waits up to the configured timeout for a datagram from the
// session's client. Datagrams from other addresses are dropped and do not
// extend the wait.
func (s *Session) receive(buf []byte) (int, error) {
	if s.conn == nil {
		return 0, net.ErrClosed
	}
	// Socket deadlines are wall-clock; the injected clock cannot drive them.
	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.Timeout)); err != nil {
		return 0, err
	}
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}
		if !sameAddr(from, s.Client) {
			s.logger.Debug("dropping datagram from foreign address", "from", addrString(from))
			continue
		}
		return n, nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	ua, okA := a.(*net.UDPAddr)
	ub, okB := b.(*net.UDPAddr)
	if okA && okB {
		return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
	}
	return a.Network() == b.Network() && a.String() == b.String()
}
