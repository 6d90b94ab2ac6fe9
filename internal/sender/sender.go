// Package sender is the client side of the protocol: it announces a file,
// learns the session's reply address from the ack and streams fragments to
// it. The receiver never asks for retransmission, so reliability comes from
// sending every fragment Passes times.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/sheerbytes/fragd/internal/checksum"
	"github.com/sheerbytes/fragd/pkg/protocol"
)

var (
	// ErrNoAck means the receiver never acknowledged the handshake.
	ErrNoAck = errors.New("no ack from receiver")
	// ErrBodySize means the requested body would not fit one datagram.
	ErrBodySize = errors.New("body size out of range")
)

// Config describes one upload.
type Config struct {
	Server     string
	File       string
	RemoteName string // defaults to the base name of File
	RemoteDir  string
	BodySize   int
	Passes     int

	HandshakeTimeout time.Duration
	HandshakeRetries int
	// Pace is the minimum gap between fragments; zero sends as fast as possible.
	Pace time.Duration

	// Skip, if set, suppresses the given fragment on the given pass (1-based).
	Skip func(pass int, index int64) bool

	Logger *slog.Logger
}

// Result summarizes a finished upload from the sender's point of view.
type Result struct {
	ReplyAddr net.Addr
	FileMD5   string
	Fragments int64
	Sent      int64
	Bytes     int64
}

// FragmentCount returns how many fragments a file of size bytes needs.
// An empty file still takes one empty fragment.
func FragmentCount(size int64, bodySize int) int64 {
	if size <= 0 {
		return 1
	}
	return (size + int64(bodySize) - 1) / int64(bodySize)
}

// Send uploads cfg.File to the receiver at cfg.Server.
func Send(ctx context.Context, cfg Config) (Result, error) {
	cfg = normalize(cfg)
	if cfg.BodySize < 1 || cfg.BodySize > protocol.MaxBodySize {
		return Result{}, fmt.Errorf("%w: %d (max %d)", ErrBodySize, cfg.BodySize, protocol.MaxBodySize)
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Result{}, err
	}
	sum, err := checksum.SumReader(f)
	if err != nil {
		return Result{}, fmt.Errorf("hash %s: %w", cfg.File, err)
	}

	server, err := net.ResolveUDPAddr("udp", cfg.Server)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", cfg.Server, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	res := Result{
		FileMD5:   sum,
		Fragments: FragmentCount(info.Size(), cfg.BodySize),
	}
	logger := cfg.Logger.With("file", cfg.File, "server", server.String())

	hs := protocol.Handshake{
		Filename:    cfg.RemoteName,
		FileMD5:     sum,
		FilePath:    cfg.RemoteDir,
		FilePackets: res.Fragments,
	}
	res.ReplyAddr, err = handshake(ctx, conn, server, hs, cfg, logger)
	if err != nil {
		return res, err
	}
	logger.Info("handshake acknowledged", "reply_addr", res.ReplyAddr.String(), "fragments", res.Fragments)

	var limiter *rate.Limiter
	if cfg.Pace > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Pace), 1)
	}
	body := make([]byte, cfg.BodySize)
	for pass := 1; pass <= cfg.Passes; pass++ {
		for idx := int64(1); idx <= res.Fragments; idx++ {
			if cfg.Skip != nil && cfg.Skip(pass, idx) {
				continue
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return res, err
				}
			}
			offset := (idx - 1) * int64(cfg.BodySize)
			n, err := f.ReadAt(body, offset)
			if err != nil && !errors.Is(err, io.EOF) {
				return res, fmt.Errorf("read fragment %d: %w", idx, err)
			}
			dg, err := protocol.Encode(protocol.Fragment{
				Index:  idx,
				Offset: offset,
				Body:   body[:n],
				MD5:    checksum.Sum(body[:n]),
			})
			if err != nil {
				return res, err
			}
			if _, err := conn.WriteTo(dg, res.ReplyAddr); err != nil {
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				return res, fmt.Errorf("send fragment %d: %w", idx, err)
			}
			res.Sent++
			res.Bytes += int64(n)
		}
		logger.Debug("pass finished", "pass", pass, "sent", res.Sent)
	}
	return res, nil
}

func handshake(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr, hs protocol.Handshake, cfg Config, logger *slog.Logger) (net.Addr, error) {
	dg, err := protocol.Encode(hs)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, protocol.MaxDatagramSize)
	for attempt := 0; attempt <= cfg.HandshakeRetries; attempt++ {
		if _, err := conn.WriteTo(dg, server); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("send handshake: %w", err)
		}
		deadline := time.Now().Add(cfg.HandshakeTimeout)
		for {
			if err := conn.SetReadDeadline(deadline); err != nil {
				return nil, err
			}
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return nil, err
			}
			ack, err := protocol.DecodeAck(buf[:n])
			if err != nil || ack.Filename != hs.Filename {
				logger.Debug("ignoring unexpected datagram", "from", from.String(), "error", err)
				continue
			}
			return from, nil
		}
		logger.Debug("handshake timed out", "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoAck, cfg.HandshakeRetries+1)
}

func normalize(cfg Config) Config {
	if cfg.RemoteName == "" {
		cfg.RemoteName = filepath.Base(cfg.File)
	}
	if cfg.BodySize == 0 {
		cfg.BodySize = protocol.DefaultBodySize
	}
	if cfg.Passes < 1 {
		cfg.Passes = 1
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = time.Second
	}
	if cfg.HandshakeRetries < 0 {
		cfg.HandshakeRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}
