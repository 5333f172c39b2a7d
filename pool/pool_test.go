package pool_test

import (
	"testing"

	"github.com/greybus-run/greybus/pool"
)

func TestAcquireZeroesReusedBuffer(t *testing.T) {
	p := pool.New(pool.DefaultConfig())

	buf := p.Acquire(32)
	for i := range buf {
		buf[i] = 0xFF
	}
	p.Release(buf)

	buf2 := p.Acquire(32)
	for i, b := range buf2 {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: 0x%02x", i, b)
		}
	}
}

func TestAcquireBeyondMaxClassBypassesPool(t *testing.T) {
	cfg := pool.DefaultConfig()
	p := pool.New(cfg)

	buf := p.Acquire(cfg.MaxClass * 2)
	if len(buf) != cfg.MaxClass*2 {
		t.Fatalf("len = %d, want %d", len(buf), cfg.MaxClass*2)
	}
	stats := p.Stats()
	if stats.Missed == 0 {
		t.Fatalf("expected oversized acquire to count as a miss")
	}
}

func TestReleaseThenAcquireReusesSameClass(t *testing.T) {
	p := pool.New(pool.DefaultConfig())

	buf := p.Acquire(10)
	p.Release(buf)

	before := p.Stats().Missed
	_ = p.Acquire(10)
	after := p.Stats().Missed
	if after != before {
		t.Fatalf("expected reuse, got another miss (before=%d after=%d)", before, after)
	}
}

func TestCapacityPerClassBounded(t *testing.T) {
	cfg := pool.Config{MinClass: 16, MaxClass: 16, CapacityPerClass: 1}
	p := pool.New(cfg)

	a := p.Acquire(16)
	b := p.Acquire(16)
	p.Release(a)
	p.Release(b) // second release should be discarded, class already full

	if got := p.Stats().Released; got != 1 {
		t.Fatalf("released = %d, want 1", got)
	}
}
