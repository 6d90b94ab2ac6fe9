package transfer

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/fragd/internal/checksum"
	"github.com/sheerbytes/fragd/pkg/protocol"
)

type recordingObserver struct {
	mu       sync.Mutex
	admitted []Admission
	timeouts int
}

func (r *recordingObserver) Admitted(a Admission) {
	r.mu.Lock()
	r.admitted = append(r.admitted, a)
	r.mu.Unlock()
}

func (r *recordingObserver) TimedOut() {
	r.mu.Lock()
	r.timeouts++
	r.mu.Unlock()
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	s, ack := h.open(protocol.Handshake{
		Filename:    "a.bin",
		FileMD5:     checksum.Sum([]byte("0123456789")),
		FilePath:    "",
		FilePackets: 2,
	})
	require.Equal(t, protocol.Ack{Filename: "a.bin", Status: "ack"}, ack)

	h.send(s, fragmentBytes(t, 1, 0, []byte("01234")))
	h.send(s, fragmentBytes(t, 2, 5, []byte("56789")))

	err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, StateComplete, s.State())

	got, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))

	out := s.Outcome(err)
	assert.True(t, out.Success)
	assert.Equal(t, ReasonNone, out.Reason)
	assert.Equal(t, int64(2), out.Accepted)
	assert.Equal(t, int64(10), out.Bytes)
}

func TestRunOutOfOrderWithDuplicates(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(protocol.Handshake{
		Filename:    "o.bin",
		FileMD5:     checksum.Sum([]byte("abcdefghij")),
		FilePackets: 3,
	})

	h.send(s, fragmentBytes(t, 3, 8, []byte("ij")))
	h.send(s, fragmentBytes(t, 3, 8, []byte("ij")))
	h.send(s, fragmentBytes(t, 1, 0, []byte("abcd")))
	h.send(s, fragmentBytes(t, 2, 4, []byte("efgh")))

	require.NoError(t, s.Run())
	got, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(got))
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	h.opts.Observer = obs
	s, _ := h.open(protocol.Handshake{
		Filename:    "partial.bin",
		FileMD5:     checksum.Sum([]byte("0123456789")),
		FilePackets: 2,
	})

	h.send(s, fragmentBytes(t, 1, 0, []byte("01234")))

	err := s.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExceeded)
	assert.Equal(t, ReasonRetryBudget, ReasonOf(err))
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.verified, "verifier must not run on an incomplete file")
	assert.Equal(t, h.opts.RetryBudget+1, s.Failures())
	assert.Equal(t, h.opts.RetryBudget+1, obs.timeouts)

	out := s.Outcome(err)
	assert.False(t, out.Success)
	assert.Equal(t, int64(1), out.Accepted)
	assert.Equal(t, int64(2), out.Total)
}

func TestRunRejectionsCountAsNoProgress(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(protocol.Handshake{
		Filename:    "r.bin",
		FileMD5:     checksum.Sum([]byte("0123456789")),
		FilePackets: 2,
	})

	bad, err := protocol.Encode(protocol.Fragment{Index: 1, Offset: 0, Body: []byte("01234"), MD5: checksum.Sum([]byte("x"))})
	require.NoError(t, err)
	for i := 0; i <= h.opts.RetryBudget; i++ {
		h.send(s, bad)
	}
	// Valid fragments queued behind the rejections are never reached.
	h.send(s, fragmentBytes(t, 1, 0, []byte("01234")))
	h.send(s, fragmentBytes(t, 2, 5, []byte("56789")))

	err = s.Run()
	assert.ErrorIs(t, err, ErrRetryBudgetExceeded)
	assert.Zero(t, s.Accepted())
	assert.False(t, s.verified)
}

func TestRunAcceptResetsFailures(t *testing.T) {
	h := newHarness(t)
	h.opts.RetryBudget = 1
	obs := &recordingObserver{}
	h.opts.Observer = obs
	s, _ := h.open(protocol.Handshake{
		Filename:    "reset.bin",
		FileMD5:     checksum.Sum([]byte("0123456789")),
		FilePackets: 2,
	})

	h.send(s, []byte("noise"))
	h.send(s, fragmentBytes(t, 1, 0, []byte("01234")))
	h.send(s, fragmentBytes(t, 1, 0, []byte("01234")))
	h.send(s, fragmentBytes(t, 2, 5, []byte("56789")))

	require.NoError(t, s.Run())
	assert.Zero(t, s.Failures())

	var reasons []Reason
	for _, a := range obs.admitted {
		reasons = append(reasons, a.Reason)
	}
	assert.Equal(t, []Reason{ReasonMalformed, ReasonNone, ReasonDuplicate, ReasonNone}, reasons)
}

func TestRunWholeFileChecksumMismatch(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(protocol.Handshake{
		Filename:    "bad.bin",
		FileMD5:     checksum.Sum([]byte("something else")),
		FilePackets: 1,
	})
	h.send(s, fragmentBytes(t, 1, 0, []byte("payload")))

	err := s.Run()
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, ReasonChecksumMismatch, ReasonOf(err))
	assert.True(t, s.verified)

	got, readErr := os.ReadFile(s.Path)
	require.NoError(t, readErr)
	assert.Equal(t, "payload", string(got), "file is retained after a failed verification")
}

func TestRunIgnoresForeignSender(t *testing.T) {
	h := newHarness(t)
	h.opts.RetryBudget = 0
	s, _ := h.open(protocol.Handshake{
		Filename:    "f.bin",
		FileMD5:     checksum.Sum([]byte("0123456789")),
		FilePackets: 2,
	})

	intruder := h.net.Listen()
	defer intruder.Close()
	_, err := intruder.WriteTo(fragmentBytes(t, 1, 0, []byte("XXXXX")), s.LocalAddr())
	require.NoError(t, err)

	h.send(s, fragmentBytes(t, 1, 0, []byte("01234")))
	h.send(s, fragmentBytes(t, 2, 5, []byte("56789")))

	require.NoError(t, s.Run())
	got, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestRunClosedReplyChannel(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(protocol.Handshake{Filename: "x.bin", FileMD5: checksum.Sum(nil), FilePackets: 1})
	s.conn.Close()

	err := s.Run()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, ReasonIO, ReasonOf(err))
	assert.Equal(t, StateFailed, s.State())
}

func TestProgressSnapshot(t *testing.T) {
	h := newHarness(t)
	s, _ := h.open(protocol.Handshake{Filename: "p.bin", FileMD5: checksum.Sum(nil), FilePackets: 4})

	_, err := s.Admit(fragmentBytes(t, 2, 3, []byte("abc")))
	require.NoError(t, err)

	p := s.Progress()
	assert.Equal(t, s.ID, p.SessionID)
	assert.Equal(t, "p.bin", p.Filename)
	assert.Equal(t, int64(1), p.Accepted)
	assert.Equal(t, int64(4), p.Total)
	assert.Equal(t, int64(3), p.Bytes)
	assert.Equal(t, h.client.LocalAddr().String(), p.Client)
}

func TestProgressLogThrottled(t *testing.T) {
	h := newHarness(t)
	clk := clock.NewMock()
	var logs bytes.Buffer
	h.opts.Clock = clk
	h.opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	content := []byte("abcdefghijkl")
	s, _ := h.open(protocol.Handshake{
		Filename:    "p.bin",
		FileMD5:     checksum.Sum(content),
		FilePackets: 3,
	})

	_, err := s.Admit(fragmentBytes(t, 1, 0, content[:4]))
	require.NoError(t, err)
	s.logProgress()
	assert.NotContains(t, logs.String(), "session progress")

	clk.Add(progressLogInterval)
	s.logProgress()
	assert.Equal(t, 1, strings.Count(logs.String(), "session progress"))

	clk.Add(time.Second)
	s.logProgress()
	assert.Equal(t, 1, strings.Count(logs.String(), "session progress"))
}
