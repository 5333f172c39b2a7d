// File: transport/uart/listener.go
//
// Transport multiplexes every cport over one byte stream, using the
// operation header's pad field to carry the cport id. Grounded on
// gb_xport_uart_isr (ingestLoop), uart_work_fn (workLoop), sendMessage,
// and gb_xport_send in
// original_source/subsys/greybus/platform/transport-uart.c.
package uart

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/greybus-run/greybus/api"
	"github.com/greybus-run/greybus/wire"
)

// ringPad keeps the ring buffer from filling up exactly at GB_MTU,
// mirroring RB_PAD.
const ringPad = 8

// defaultRingSize mirrors UART_RB_SIZE = GB_MTU + RB_PAD.
const defaultRingSize = wire.MaxFrameSize + ringPad

// pollInterval is the busy-wait granularity used while waiting for more
// bytes to arrive, mirroring uart_work_fn's k_usleep(100).
const pollInterval = 100 * time.Microsecond

// Config configures the UART transport's backing port and ring size.
type Config struct {
	// Port is the byte stream to multiplex. Required.
	Port Port
	// RingSize overrides defaultRingSize if nonzero.
	RingSize int
}

// Transport is a single-stream, pad-field-multiplexed backend satisfying
// api.Transport.
type Transport struct {
	cfg  Config
	rx   api.RxHandler
	ring *byteRing

	txMu sync.Mutex

	closeCh    chan struct{}
	ingestDone chan struct{}
	workDone   chan struct{}
}

// New builds a Transport over cfg.Port. It does not start I/O until
// Init is called.
func New(cfg Config, rx api.RxHandler) *Transport {
	if cfg.RingSize <= 0 {
		cfg.RingSize = defaultRingSize
	}
	return &Transport{
		cfg:        cfg,
		rx:         rx,
		ring:       newByteRing(cfg.RingSize),
		closeCh:    make(chan struct{}),
		ingestDone: make(chan struct{}),
		workDone:   make(chan struct{}),
	}
}

var _ api.Transport = (*Transport)(nil)

// Init starts the ingest and dispatch loops. Mirrors
// gb_xport_uart_init's irq_rx_enable, minus the device binding itself
// (the caller supplies an already-opened Port).
func (t *Transport) Init(ctx context.Context) error {
	if t.cfg.Port == nil {
		return fmt.Errorf("uart: no port configured: %w", api.ErrInvalid)
	}
	go t.ingestLoop()
	go t.workLoop()
	return nil
}

// Exit closes the port, which unblocks the ingest loop's pending
// ReadByte, and waits for both loops to stop.
func (t *Transport) Exit() error {
	close(t.closeCh)
	_ = t.cfg.Port.Close()
	<-t.ingestDone
	<-t.workDone
	return nil
}

// Listen/StopListening are no-ops: every cport shares the one stream and
// is always eligible for dispatch, mirroring gb_xport_listen/_stop_listening
// always returning 0 in the reference backend.
func (t *Transport) Listen(cport uint16) error       { return nil }
func (t *Transport) StopListening(cport uint16) error { return nil }

// Send stamps frame's pad field with cport and writes it out byte by
// byte. Mirrors gb_xport_send/sendMessage.
func (t *Transport) Send(cport uint16, frame []byte) error {
	if len(frame) < wire.HeaderSize {
		return fmt.Errorf("uart: frame shorter than header: %w", api.ErrInvalid)
	}
	hdr := wire.Decode(frame)
	if int(hdr.Size) != len(frame) {
		return fmt.Errorf("uart: declared size %d != len %d: %w", hdr.Size, len(frame), api.ErrInvalid)
	}

	out := make([]byte, len(frame))
	copy(out, frame)
	wire.PutU16(out[6:8], cport)

	t.txMu.Lock()
	defer t.txMu.Unlock()
	for _, b := range out {
		if err := t.cfg.Port.WriteByte(b); err != nil {
			return fmt.Errorf("uart: write: %w", err)
		}
	}
	return nil
}

// SendAsync is unsupported, mirroring gb_xport.send_async being NULL.
func (t *Transport) SendAsync(cport uint16, frame []byte, done api.SendAsyncCallback, user any) error {
	return api.ErrNotSupported
}

// AllocBuf/FreeBuf delegate to the Go heap. Mirrors
// gb_xport_alloc_buf/_free_buf.
func (t *Transport) AllocBuf(size int) []byte { return make([]byte, size) }
func (t *Transport) FreeBuf(buf []byte)       {}

// RxBufFree is a no-op: this backend never hands out borrowed buffers.
func (t *Transport) RxBufFree(cport uint16, buf []byte) {}

// ingestLoop reads one byte at a time from the port into the ring
// buffer, evicting the oldest byte on overflow. Mirrors
// gb_xport_uart_isr's fifo drain loop.
func (t *Transport) ingestLoop() {
	defer close(t.ingestDone)
	for {
		b, err := t.cfg.Port.ReadByte()
		if err != nil {
			return
		}
		if t.ring.push(b) {
			log.Printf("greybus: uart: ring buffer overflow, oldest byte evicted")
		}
	}
}

// workLoop waits for a complete header, validates it, waits for the
// declared payload, and dispatches the assembled frame. Mirrors
// uart_work_fn.
func (t *Transport) workLoop() {
	defer close(t.workDone)
	for {
		if !t.waitFor(wire.HeaderSize) {
			return
		}

		hdrBytes := t.ring.pop(wire.HeaderSize)
		hdr := wire.Decode(hdrBytes)
		if hdr.Size < wire.HeaderSize {
			log.Printf("greybus: uart: invalid message size %d", hdr.Size)
			continue
		}
		payloadSize := int(hdr.Size) - wire.HeaderSize
		if payloadSize > wire.MaxPayloadSize {
			log.Printf("greybus: uart: invalid payload size %d", payloadSize)
			continue
		}

		if !t.waitFor(payloadSize) {
			return
		}
		payload := t.ring.pop(payloadSize)

		frame := make([]byte, hdr.Size)
		copy(frame, hdrBytes)
		copy(frame[wire.HeaderSize:], payload)

		cport := hdr.Pad
		if err := t.rx(cport, frame); err != nil {
			log.Printf("greybus: uart: cport %d failed to handle message: %v", cport, err)
		}
	}
}

// waitFor polls until the ring buffer holds at least n bytes, returning
// false if Exit was called first.
func (t *Transport) waitFor(n int) bool {
	for t.ring.len() < n {
		select {
		case <-t.closeCh:
			return false
		default:
		}
		time.Sleep(pollInterval)
	}
	return true
}
