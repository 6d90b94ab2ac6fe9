package progress

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
)

func TestMeterRate(t *testing.T) {
	clk := clock.NewMock()
	m := NewMeter(clk)
	m.Start()

	clk.Add(1 * time.Second)
	m.Add(1000)

	stats := m.Snapshot()
	if stats.BytesDone != 1000 {
		t.Fatalf("expected bytes done 1000, got %d", stats.BytesDone)
	}
	if stats.RateBps < 900 || stats.RateBps > 1100 {
		t.Fatalf("expected rate around 1000 B/s, got %.2f", stats.RateBps)
	}
	if stats.Elapsed != time.Second {
		t.Fatalf("expected elapsed 1s, got %s", stats.Elapsed)
	}
}

func TestMeterEWMASmoothing(t *testing.T) {
	clk := clock.NewMock()
	m := NewMeter(clk)
	m.Start()

	clk.Add(1 * time.Second)
	m.Add(1000)

	clk.Add(1 * time.Second)
	m.Add(3000)

	// 0.2*3000 + 0.8*1000
	stats := m.Snapshot()
	if stats.RateBps < 1300 || stats.RateBps > 1500 {
		t.Fatalf("expected smoothed rate ~1400 B/s, got %.2f", stats.RateBps)
	}
}

func TestMeterSameInstantAdds(t *testing.T) {
	clk := clock.NewMock()
	m := NewMeter(clk)
	m.Start()

	m.Add(500)
	m.Add(500)
	m.Add(0)
	m.Add(-5)

	stats := m.Snapshot()
	if stats.BytesDone != 1000 {
		t.Fatalf("expected 1000 bytes, got %d", stats.BytesDone)
	}
	if stats.RateBps != 0 {
		t.Fatalf("expected no rate without elapsed time, got %.2f", stats.RateBps)
	}
}

func TestMeterNotStarted(t *testing.T) {
	m := NewMeter(clock.NewMock())
	if stats := m.Snapshot(); stats.Elapsed != 0 || !stats.StartedAt.IsZero() {
		t.Fatalf("unexpected stats before Start: %+v", stats)
	}
}
