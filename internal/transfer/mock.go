package transfer

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// MockNetwork is an in-memory datagram network for testing. Conns created on
// the same network can address each other by LocalAddr; datagrams to unknown
// addresses are silently dropped, like UDP.
type MockNetwork struct {
	mu       sync.Mutex
	conns    map[string]*MockPacketConn
	nextPort int
}

// NewMockNetwork creates an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		conns:    make(map[string]*MockPacketConn),
		nextPort: 40000,
	}
}

// Listen creates a conn with a fresh loopback address.
func (n *MockNetwork) Listen() *MockPacketConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextPort++
	c := &MockPacketConn{
		network: n,
		addr:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: n.nextPort},
		inbox:   make(chan mockDatagram, 1024),
		closed:  make(chan struct{}),
	}
	n.conns[c.addr.String()] = c
	return c
}

// ListenPacket matches Options.Listen.
func (n *MockNetwork) ListenPacket() (net.PacketConn, error) {
	return n.Listen(), nil
}

func (n *MockNetwork) lookup(addr net.Addr) *MockPacketConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[addr.String()]
}

func (n *MockNetwork) remove(c *MockPacketConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, c.addr.String())
}

type mockDatagram struct {
	data []byte
	from net.Addr
}

// MockPacketConn is a net.PacketConn on a MockNetwork.
type MockPacketConn struct {
	network *MockNetwork
	addr    *net.UDPAddr
	inbox   chan mockDatagram

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

var _ net.PacketConn = (*MockPacketConn)(nil)

// ReadFrom blocks until a datagram arrives, the read deadline passes or the
// conn is closed.
func (c *MockPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case dg := <-c.inbox:
		return copy(p, dg.data), dg.from, nil
	default:
	}

	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case dg := <-c.inbox:
		return copy(p, dg.data), dg.from, nil
	case <-expired:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo delivers a copy of p to the conn bound at addr, if any.
func (c *MockPacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if addr == nil {
		return 0, fmt.Errorf("mock: nil destination")
	}
	dst := c.network.lookup(addr)
	if dst == nil {
		return len(p), nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case dst.inbox <- mockDatagram{data: buf, from: c.addr}:
	default:
		// Receiver queue full: drop.
	}
	return len(p), nil
}

func (c *MockPacketConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.network.remove(c)
	})
	return nil
}

// Closed reports whether Close has been called.
func (c *MockPacketConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *MockPacketConn) LocalAddr() net.Addr {
	return c.addr
}

func (c *MockPacketConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *MockPacketConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *MockPacketConn) SetWriteDeadline(time.Time) error {
	return nil
}
