package transfer

import (
	"fmt"

	"github.com/sheerbytes/fragd/internal/checksum"
	"github.com/sheerbytes/fragd/pkg/protocol"
)

// Verdict is the outcome of admitting one datagram.
type Verdict int

const (
	Rejected Verdict = iota
	Accepted
)

// Admission is the tagged result of Admit. Rejections carry a Reason and are
// never errors: the protocol has no way to tell the client about them.
type Admission struct {
	Verdict Verdict
	Reason  Reason
	Index   int64
	Offset  int64
	Bytes   int
	// Detail explains a malformed datagram.
	Detail error
}

// Accepted reports whether the fragment made progress.
func (a Admission) Accepted() bool {
	return a.Verdict == Accepted
}

func reject(reason Reason, frag protocol.Fragment, detail error) Admission {
	return Admission{
		Verdict: Rejected,
		Reason:  reason,
		Index:   frag.Index,
		Offset:  frag.Offset,
		Bytes:   len(frag.Body),
		Detail:  detail,
	}
}

// Admit validates one datagram and, if it carries a new fragment, writes it.
// The returned error is non-nil only when the write fails, which ends the
// session.
func (s *Session) Admit(datagram []byte) (Admission, error) {
	frag, err := protocol.DecodeFragment(datagram)
	if err != nil {
		return s.observe(reject(ReasonMalformed, frag, err)), nil
	}
	if !s.accepted.InRange(frag.Index) {
		detail := fmt.Errorf("%w: packet_index %d outside [1, %d]", protocol.ErrInvalidField, frag.Index, s.TotalFragments)
		return s.observe(reject(ReasonMalformed, frag, detail)), nil
	}
	if !checksum.Equal(checksum.Sum(frag.Body), frag.MD5) {
		return s.observe(reject(ReasonChecksumMismatch, frag, nil)), nil
	}
	if s.accepted.Has(frag.Index) {
		return s.observe(reject(ReasonDuplicate, frag, nil)), nil
	}

	if err := s.writeAt(frag.Offset, frag.Body); err != nil {
		return reject(ReasonIO, frag, err), err
	}
	s.accepted.Mark(frag.Index)
	s.acceptedN.Add(1)
	s.meter.Add(len(frag.Body))

	return s.observe(Admission{
		Verdict: Accepted,
		Index:   frag.Index,
		Offset:  frag.Offset,
		Bytes:   len(frag.Body),
	}), nil
}

func (s *Session) observe(a Admission) Admission {
	s.opts.Observer.Admitted(a)
	if a.Accepted() {
		s.logger.Debug("fragment accepted", "index", a.Index, "offset", a.Offset, "bytes", a.Bytes)
	} else {
		s.logger.Debug("fragment rejected", "index", a.Index, "reason", string(a.Reason), "detail", a.Detail)
	}
	return a
}
