// File: pool/pool.go
//
// Pool is the buffer allocator backing operation request/response buffers.
// It keeps one free list per power-of-two size class, each list a FIFO
// ring built on github.com/eapache/queue (the same dependency the teacher
// pulls in for its worker executor's task queue, per
// momentics-hioload-ws/internal/concurrency/executor.go); a stdlib
// sync.Mutex guards each class's queue since eapache/queue.Queue is not
// itself concurrency-safe.
//
// Grounded in shape on momentics-hioload-ws/pool/bytepool.go's
// SimpleBytePool (bounded free list, alloc-on-miss fallback), generalized
// from one fixed size to the size classes an Operation's variable-length
// request/response buffers need.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/greybus-run/greybus/api"
)

var _ api.BytePool = (*Pool)(nil)

// Config controls a Pool's size classing and per-class capacity.
type Config struct {
	// MinClass is the smallest buffer size class, in bytes. Must be a
	// power of two.
	MinClass int
	// MaxClass is the largest pooled size class; requests larger than
	// this bypass the pool and allocate directly.
	MaxClass int
	// CapacityPerClass bounds how many free buffers each size class
	// retains before Release starts discarding.
	CapacityPerClass int
}

// DefaultConfig sizes classes from 64B to 16KiB, matching the Greybus
// operation header plus typical small device-class payloads, with a
// modest per-class cap.
func DefaultConfig() Config {
	return Config{MinClass: 64, MaxClass: 16 * 1024, CapacityPerClass: 256}
}

type class struct {
	mu   sync.Mutex
	q    *queue.Queue
	size int
}

// Pool is a size-classed byte buffer pool implementing api.BytePool.
type Pool struct {
	cfg     Config
	classes []*class

	acquired atomic.Uint64
	released atomic.Uint64
	missed   atomic.Uint64
}

// Stats reports coarse counters useful in tests and diagnostics.
type Stats struct {
	Acquired uint64
	Released uint64
	Missed   uint64 // Acquire calls that found no pooled buffer
}

// New builds a Pool with the given configuration.
func New(cfg Config) *Pool {
	if cfg.MinClass <= 0 {
		cfg.MinClass = 64
	}
	if cfg.MaxClass < cfg.MinClass {
		cfg.MaxClass = cfg.MinClass
	}
	p := &Pool{cfg: cfg}
	for size := cfg.MinClass; size <= cfg.MaxClass; size *= 2 {
		p.classes = append(p.classes, &class{q: queue.New(), size: size})
	}
	return p
}

func (p *Pool) classFor(n int) *class {
	for _, c := range p.classes {
		if n <= c.size {
			return c
		}
	}
	return nil
}

// Acquire returns a zeroed buffer of at least n bytes, reused from the
// matching size class when available.
func (p *Pool) Acquire(n int) []byte {
	p.acquired.Add(1)
	c := p.classFor(n)
	if c == nil {
		p.missed.Add(1)
		return make([]byte, n)
	}

	c.mu.Lock()
	var buf []byte
	if c.q.Length() > 0 {
		buf = c.q.Remove().([]byte)
	}
	c.mu.Unlock()

	if buf == nil {
		p.missed.Add(1)
		return make([]byte, n, c.size)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Release returns buf to its size class's free list, discarding it if the
// class is at capacity or the buffer doesn't belong to any class.
func (p *Pool) Release(buf []byte) {
	if buf == nil {
		return
	}
	c := p.classFor(cap(buf))
	if c == nil || c.size != cap(buf) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.q.Length() >= p.cfg.CapacityPerClass {
		return
	}
	c.q.Add(buf[:cap(buf)])
	p.released.Add(1)
}

// Stats snapshots the pool's coarse counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
		Missed:   p.missed.Load(),
	}
}
