package uart_test

import (
	"errors"
	"sync"
)

// fakePort is an in-memory, channel-backed Port used by tests so the
// UART transport can be exercised without real hardware.
type fakePort struct {
	rx chan byte // bytes arriving at the transport's ReadByte
	tx chan byte // bytes the transport writes via WriteByte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakePort() *fakePort {
	return &fakePort{
		rx:     make(chan byte, 4096),
		tx:     make(chan byte, 4096),
		closed: make(chan struct{}),
	}
}

var errFakePortClosed = errors.New("fakeport: closed")

func (p *fakePort) ReadByte() (byte, error) {
	select {
	case b := <-p.rx:
		return b, nil
	case <-p.closed:
		return 0, errFakePortClosed
	}
}

func (p *fakePort) WriteByte(b byte) error {
	select {
	case p.tx <- b:
		return nil
	case <-p.closed:
		return errFakePortClosed
	}
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// deliver feeds bytes into the transport's read side, as if they had
// arrived over the wire.
func (p *fakePort) deliver(bs []byte) {
	for _, b := range bs {
		p.rx <- b
	}
}

// sent drains n bytes the transport has written, blocking until they
// arrive.
func (p *fakePort) sent(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = <-p.tx
	}
	return out
}
