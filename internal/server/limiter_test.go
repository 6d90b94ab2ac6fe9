package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPLimiter_Disabled(t *testing.T) {
	l := newIPLimiter(0, 1)
	now := time.Unix(1000, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("10.0.0.1", now), "disabled limiter refused")
	}
	assert.Zero(t, l.size(), "disabled limiter tracked IPs")
}

func TestIPLimiter_BurstAndRefill(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Unix(1000, 0)

	require.True(t, l.Allow("10.0.0.1", now))
	require.True(t, l.Allow("10.0.0.1", now), "burst of 2 refused")
	assert.False(t, l.Allow("10.0.0.1", now), "third handshake within burst allowed")
	assert.True(t, l.Allow("10.0.0.2", now), "other IP should have its own bucket")
	assert.True(t, l.Allow("10.0.0.1", now.Add(1100*time.Millisecond)), "bucket did not refill after 1s")
}

func TestIPLimiter_Prune(t *testing.T) {
	l := newIPLimiter(1, 1)
	start := time.Unix(1000, 0)
	l.Allow("10.0.0.1", start)
	l.Allow("10.0.0.2", start)
	require.Equal(t, 2, l.size())

	l.Allow("10.0.0.3", start.Add(limiterIdleTTL+time.Second))
	assert.Equal(t, 1, l.size(), "idle entries should be pruned")
}
