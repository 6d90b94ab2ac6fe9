// Package metrics records receiver activity in a tally scope.
package metrics

import (
	"github.com/uber-go/tally"

	"github.com/sheerbytes/fragd/internal/transfer"
)

// Metrics implements transfer.Observer and transfer.Reporter on top of a
// tally scope.
type Metrics struct {
	scope tally.Scope
}

var (
	_ transfer.Observer = (*Metrics)(nil)
	_ transfer.Reporter = (*Metrics)(nil)
)

// New wraps scope; a nil scope records nothing.
func New(scope tally.Scope) *Metrics {
	if scope == nil {
		scope = tally.NoopScope
	}
	return &Metrics{scope: scope}
}

// Admitted counts one admitted or rejected fragment.
func (m *Metrics) Admitted(a transfer.Admission) {
	if a.Accepted() {
		m.scope.Counter("fragments_accepted").Inc(1)
		m.scope.Counter("bytes_written").Inc(int64(a.Bytes))
		return
	}
	m.scope.Tagged(map[string]string{"reason": string(a.Reason)}).Counter("fragments_rejected").Inc(1)
}

// TimedOut counts a receive timeout.
func (m *Metrics) TimedOut() {
	m.scope.Counter("receive_timeouts").Inc(1)
}

// Report counts a finished session and records its duration.
func (m *Metrics) Report(o transfer.Outcome) {
	result := "success"
	if !o.Success {
		result = "failure"
	}
	tags := map[string]string{"result": result}
	if o.Reason != transfer.ReasonNone {
		tags["reason"] = string(o.Reason)
	}
	scope := m.scope.Tagged(tags)
	scope.Counter("sessions_finished").Inc(1)
	if o.SessionID != "" {
		scope.Timer("session_duration").Record(o.Duration)
	}
}

// SessionsActive publishes the number of running sessions.
func (m *Metrics) SessionsActive(n int) {
	m.scope.Gauge("sessions_active").Update(float64(n))
}

// HandshakeDropped counts a handshake refused before it was parsed.
func (m *Metrics) HandshakeDropped(reason string) {
	m.scope.Tagged(map[string]string{"reason": reason}).Counter("handshakes_dropped").Inc(1)
}
