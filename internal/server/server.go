// Package server dispatches handshakes arriving on the listening socket to
// concurrently running transfer sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/andres-erbsen/clock"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/sheerbytes/fragd/internal/bufpool"
	"github.com/sheerbytes/fragd/internal/registry"
	"github.com/sheerbytes/fragd/internal/transfer"
	"github.com/sheerbytes/fragd/internal/transport"
	"github.com/sheerbytes/fragd/pkg/protocol"
)

const (
	DropRateLimited = "rate_limited"
	DropCapacity    = "max_sessions"
)

// Config controls the listener. Session is the template every session is
// opened with; if Session.Listen is nil each reply channel is bound to the
// local IP the client's handshake was addressed to.
type Config struct {
	Session        transfer.Options
	MaxSessions    int
	HandshakeRate  float64
	HandshakeBurst int
	ReadBuffer     int
	WriteBuffer    int

	Logger   *slog.Logger
	Reporter transfer.Reporter
	Store    *registry.Store
	// OnDrop is called with a Drop* reason when a handshake is discarded
	// before a session is attempted.
	OnDrop func(reason string)
}

// Server owns the listening socket and every session it starts.
type Server struct {
	cfg          Config
	customListen bool
	logger       *slog.Logger
	clock        clock.Clock
	limiter      *ipLimiter
	slots        chan struct{}
	buffers      *bufpool.Pool

	wg sync.WaitGroup
}

// New creates a server. Zero-valued fields get working defaults.
func New(cfg Config) *Server {
	customListen := cfg.Session.Listen != nil
	cfg.Session = transfer.NormalizeOptions(cfg.Session)
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Store == nil {
		cfg.Store = registry.NewStore(nil)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = transfer.Reporters{}
	}
	return &Server{
		cfg:          cfg,
		customListen: customListen,
		logger:       cfg.Logger,
		clock:        cfg.Session.Clock,
		limiter:      newIPLimiter(cfg.HandshakeRate, cfg.HandshakeBurst),
		slots:        make(chan struct{}, cfg.MaxSessions),
		buffers:      bufpool.New(protocol.MaxDatagramSize),
	}
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", a)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve reads handshakes from conn until ctx is cancelled or conn is closed,
// then waits for running sessions to finish. It closes conn.
func (s *Server) Serve(ctx context.Context, conn *net.UDPConn) error {
	defer conn.Close()

	tune := transport.TuneUDP(conn, s.cfg.ReadBuffer, s.cfg.WriteBuffer)
	s.logger.Info("listening", append([]any{"addr", conn.LocalAddr().String()}, tune.LogAttrs()...)...)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	read := packetReader(conn, s.logger)
	var serveErr error
	for {
		bp := s.buffers.Get()
		n, dst, src, err := read(*bp)
		if err != nil {
			s.buffers.Put(bp)
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				serveErr = err
				break
			}
			s.logger.Warn("read failed", "error", err)
			continue
		}
		s.dispatch(bp, n, dst, src)
	}

	s.logger.Info("listener stopped, waiting for sessions", "active", s.cfg.Store.Count())
	s.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return serveErr
}

// Active returns the number of running sessions.
func (s *Server) Active() int {
	return s.cfg.Store.Count()
}

func (s *Server) dispatch(bp *[]byte, n int, dst net.IP, src *net.UDPAddr) {
	if !s.limiter.Allow(src.IP.String(), s.clock.Now()) {
		s.drop(bp, src, DropRateLimited)
		return
	}
	select {
	case s.slots <- struct{}{}:
	default:
		s.drop(bp, src, DropCapacity)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		s.handle(bp, n, dst, src)
	}()
}

func (s *Server) drop(bp *[]byte, src *net.UDPAddr, reason string) {
	s.buffers.Put(bp)
	s.logger.Warn("handshake dropped", "client", src.String(), "reason", reason)
	if s.cfg.OnDrop != nil {
		s.cfg.OnDrop(reason)
	}
}

func (s *Server) handle(bp *[]byte, n int, dst net.IP, src *net.UDPAddr) {
	sess, err := transfer.AcceptHandshake(s.sessionOptions(dst), (*bp)[:n], src)
	s.buffers.Put(bp)
	if err != nil {
		s.logger.Warn("handshake rejected", "client", src.String(), "error", err)
		s.cfg.Reporter.Report(transfer.HandshakeOutcome(src, err, s.clock.Now()))
		return
	}

	outcome := sess.Outcome(s.runSession(sess))
	s.logOutcome(outcome)
	s.cfg.Reporter.Report(outcome)
}

// runSession drives sess to completion while it is listed in the store. The
// file and reply channel are closed and the listing removed on every exit.
func (s *Server) runSession(sess *transfer.Session) (err error) {
	remove := s.cfg.Store.Add(sess.ID, sess)
	defer remove()
	defer func() {
		if closeErr := sess.Close(); closeErr != nil && err == nil {
			err = &transfer.SessionError{
				Reason: transfer.ReasonIO,
				Err:    fmt.Errorf("%w: close: %v", transfer.ErrIO, closeErr),
			}
		}
	}()
	return sess.Run()
}

func (s *Server) logOutcome(o transfer.Outcome) {
	attrs := []any{
		"session_id", o.SessionID,
		"client", o.Client,
		"filename", o.Filename,
		"path", o.Path,
		"fragments", fmt.Sprintf("%d/%d", o.Accepted, o.Total),
		"bytes", o.Bytes,
		"duration", o.Duration,
	}
	if o.Success {
		s.logger.Info("session complete", attrs...)
		return
	}
	attrs = append(attrs, "reason", string(o.Reason), "error", o.Err)
	s.logger.Warn("session failed", attrs...)
}

// sessionOptions returns the session template with a reply-channel
// allocator bound to dst.
func (s *Server) sessionOptions(dst net.IP) transfer.Options {
	opts := s.cfg.Session
	if s.customListen {
		return opts
	}
	opts.Listen = func() (net.PacketConn, error) {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: dst})
		if err != nil && dst != nil {
			s.logger.Debug("bind reply channel to destination IP failed, using wildcard", "ip", dst.String(), "error", err)
			conn, err = net.ListenUDP("udp", &net.UDPAddr{})
		}
		if err != nil {
			return nil, err
		}
		if tune := transport.TuneUDP(conn, s.cfg.ReadBuffer, s.cfg.WriteBuffer); tune.Status == transport.StatusDenied {
			s.logger.Debug("reply channel tuning denied", tune.LogAttrs()...)
		}
		return conn, nil
	}
	return opts
}

type readFunc func(buf []byte) (n int, dst net.IP, src *net.UDPAddr, err error)

// packetReader returns a reader that reports the destination IP of each
// datagram when the platform supports it, falling back to plain reads.
func packetReader(conn *net.UDPConn, logger *slog.Logger) readFunc {
	ip := conn.LocalAddr().(*net.UDPAddr).IP
	if ip == nil || ip.To4() != nil {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetControlMessage(ipv4.FlagDst, true); err == nil {
			return func(buf []byte) (int, net.IP, *net.UDPAddr, error) {
				n, cm, src, err := pc.ReadFrom(buf)
				if err != nil {
					return 0, nil, nil, err
				}
				var dst net.IP
				if cm != nil {
					dst = cm.Dst
				}
				return n, dst, src.(*net.UDPAddr), nil
			}
		}
	} else {
		pc := ipv6.NewPacketConn(conn)
		if err := pc.SetControlMessage(ipv6.FlagDst, true); err == nil {
			return func(buf []byte) (int, net.IP, *net.UDPAddr, error) {
				n, cm, src, err := pc.ReadFrom(buf)
				if err != nil {
					return 0, nil, nil, err
				}
				var dst net.IP
				if cm != nil {
					dst = cm.Dst
				}
				return n, dst, src.(*net.UDPAddr), nil
			}
		}
	}
	logger.Debug("destination IP control messages unavailable, replies use the wildcard address")
	return func(buf []byte) (int, net.IP, *net.UDPAddr, error) {
		n, src, err := conn.ReadFromUDP(buf)
		return n, nil, src, err
	}
}
