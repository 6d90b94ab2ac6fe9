package transfer

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockNetwork_Delivery(t *testing.T) {
	network := NewMockNetwork()
	a := network.Listen()
	b := network.Listen()
	defer a.Close()
	defer b.Close()

	_, err := a.WriteTo([]byte("hello"), b.LocalAddr())
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, from, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, a.LocalAddr().String(), from.String())
}

func TestMockNetwork_UnknownDestinationDropped(t *testing.T) {
	network := NewMockNetwork()
	a := network.Listen()
	defer a.Close()

	n, err := a.WriteTo([]byte("x"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
	require.NoError(t, err, "unknown destinations are dropped silently")
	assert.Equal(t, 1, n)
}

func TestMockPacketConn_Deadline(t *testing.T) {
	network := NewMockNetwork()
	c := network.Listen()
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(10*time.Millisecond)))
	start := time.Now()
	_, _, err := c.ReadFrom(make([]byte, 8))
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.True(t, isTimeout(err), "isTimeout should report a mock deadline")
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond, "ReadFrom returned before the deadline")
}

func TestMockPacketConn_Close(t *testing.T) {
	network := NewMockNetwork()
	a := network.Listen()
	b := network.Listen()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := a.ReadFrom(make([]byte, 8))
		done <- err
	}()
	a.Close()
	a.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReadFrom did not unblock on Close")
	}
	assert.True(t, a.Closed())
	_, err := a.WriteTo([]byte("x"), b.LocalAddr())
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Nil(t, network.lookup(a.LocalAddr()), "closed conn still registered")
}
