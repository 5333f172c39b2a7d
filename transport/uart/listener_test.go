package uart_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/greybus-run/greybus/result"
	"github.com/greybus-run/greybus/transport/uart"
	"github.com/greybus-run/greybus/wire"
)

type received struct {
	cport uint16
	frame []byte
}

type rxCollector struct {
	mu   sync.Mutex
	msgs []received
}

func (c *rxCollector) handle(cport uint16, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.mu.Lock()
	c.msgs = append(c.msgs, received{cport: cport, frame: cp})
	c.mu.Unlock()
	return nil
}

func (c *rxCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *rxCollector) at(i int) received {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[i]
}

func waitForCount(t *testing.T, c *rxCollector, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if c.count() >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d received message(s), got %d", n, c.count())
		case <-time.After(time.Millisecond):
		}
	}
}

func buildFrame(id uint16, pad uint16, payload []byte) []byte {
	frame := make([]byte, wire.HeaderSize+len(payload))
	wire.Encode(frame, wire.Header{
		Size:   uint16(len(frame)),
		ID:     id,
		Type:   0x01,
		Result: result.Success,
		Pad:    pad,
	})
	copy(frame[wire.HeaderSize:], payload)
	return frame
}

func TestTransportDeliversFrameFromByteStream(t *testing.T) {
	port := newFakePort()
	collector := &rxCollector{}
	tr := uart.New(uart.Config{Port: port}, collector.handle)

	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer tr.Exit()

	frame := buildFrame(7, 2, []byte("hello"))
	port.deliver(frame)

	waitForCount(t, collector, 1)
	got := collector.at(0)
	if got.cport != 2 {
		t.Fatalf("cport = %d, want 2", got.cport)
	}
	if string(got.frame) != string(frame) {
		t.Fatalf("frame = %v, want %v", got.frame, frame)
	}
}

func TestTransportDeliversMultipleCoalescedFrames(t *testing.T) {
	port := newFakePort()
	collector := &rxCollector{}
	tr := uart.New(uart.Config{Port: port}, collector.handle)

	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer tr.Exit()

	f1 := buildFrame(1, 0, []byte("a"))
	f2 := buildFrame(2, 1, []byte("bb"))
	port.deliver(append(append([]byte{}, f1...), f2...))

	waitForCount(t, collector, 2)
	if collector.at(0).cport != 0 || collector.at(1).cport != 1 {
		t.Fatalf("unexpected cport routing: %+v", []received{collector.at(0), collector.at(1)})
	}
}

func TestTransportDropsOversizedHeaderAndResyncsNextFrame(t *testing.T) {
	port := newFakePort()
	collector := &rxCollector{}
	tr := uart.New(uart.Config{Port: port}, collector.handle)

	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer tr.Exit()

	bad := buildFrame(1, 0, nil)
	wire.Encode(bad, wire.Header{Size: wire.MaxFrameSize + 1, ID: 1, Type: 0x01, Result: result.Success})
	good := buildFrame(2, 0, []byte("ok"))
	port.deliver(bad)
	port.deliver(good)

	waitForCount(t, collector, 1)
	if string(collector.at(0).frame) != string(good) {
		t.Fatalf("frame = %v, want %v", collector.at(0).frame, good)
	}
}

func TestSendStampsPadWithCport(t *testing.T) {
	port := newFakePort()
	tr := uart.New(uart.Config{Port: port}, func(uint16, []byte) error { return nil })

	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer tr.Exit()

	frame := buildFrame(9, 0, []byte("payload"))
	if err := tr.Send(5, frame); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	got := port.sent(len(frame))
	hdr := wire.Decode(got)
	if hdr.Pad != 5 {
		t.Fatalf("written frame pad = %d, want 5", hdr.Pad)
	}
	if string(got[wire.HeaderSize:]) != "payload" {
		t.Fatalf("written payload = %q, want %q", got[wire.HeaderSize:], "payload")
	}
}

func TestSendRejectsSizeMismatch(t *testing.T) {
	port := newFakePort()
	tr := uart.New(uart.Config{Port: port}, func(uint16, []byte) error { return nil })
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer tr.Exit()

	frame := buildFrame(1, 0, []byte("xx"))
	wire.Encode(frame, wire.Header{Size: 999, ID: 1, Type: 0x01, Result: result.Success})

	if err := tr.Send(0, frame); err == nil {
		t.Fatal("Send() with mismatched declared size should fail")
	}
}

func TestExitUnblocksIngestAndWorkLoops(t *testing.T) {
	port := newFakePort()
	tr := uart.New(uart.Config{Port: port}, func(uint16, []byte) error { return nil })
	if err := tr.Init(context.Background()); err != nil {
		t.Fatalf("Init() = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- tr.Exit() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Exit() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Exit() did not return in time")
	}
}
