package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/greybus-run/greybus/api"
	"github.com/greybus-run/greybus/engine"
	"github.com/greybus-run/greybus/operation"
	"github.com/greybus-run/greybus/result"
)

// sentFrames collects frames handed to a MockTransport's Send from
// whichever cport worker goroutine produced them.
type sentFrames struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *sentFrames) add(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.mu.Lock()
	s.frames = append(s.frames, cp)
	s.mu.Unlock()
}

func (s *sentFrames) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *sentFrames) at(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[i]
}

func newTestEngine(t *testing.T, sent *sentFrames) (*engine.Engine, *api.MockTransport) {
	t.Helper()
	mt := &api.MockTransport{
		SendFunc: func(cport uint16, frame []byte) error {
			sent.add(frame)
			return nil
		},
	}
	cfg := engine.DefaultConfig(4)
	e := engine.New(cfg, mt)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, mt
}

// TestPingRequest mirrors spec.md §8 scenario S1: a ping carries no
// handler lookup and always succeeds.
func TestPingRequest(t *testing.T) {
	sent := &sentFrames{}
	e, _ := newTestEngine(t, sent)

	if err := e.RegisterDriver(0, -1, &engine.Driver{Name: "ping-only"}); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	req := []byte{0x08, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	if err := e.RxHandler(0, req); err != nil {
		t.Fatalf("RxHandler: %v", err)
	}

	waitForSend(t, sent, 1)
	want := []byte{0x08, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00}
	assertFrame(t, sent.at(0), want)
}

// TestUnknownTypeRequest mirrors spec.md §8 scenario S2: no handler for
// the request type yields an Invalid response.
func TestUnknownTypeRequest(t *testing.T) {
	sent := &sentFrames{}
	e, _ := newTestEngine(t, sent)

	if err := e.RegisterDriver(0, -1, &engine.Driver{Name: "no-handlers"}); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	req := []byte{0x08, 0x00, 0x02, 0x00, 0x7F, 0x00, 0x00, 0x00}
	if err := e.RxHandler(0, req); err != nil {
		t.Fatalf("RxHandler: %v", err)
	}

	waitForSend(t, sent, 1)
	want := []byte{0x08, 0x00, 0x02, 0x00, 0xFF, 0x02, 0x00, 0x00}
	assertFrame(t, sent.at(0), want)
}

// TestUnknownTypeFireAndForgetDropped mirrors spec.md §4.1/§7/§8: an
// unknown type on a request with id == 0 is dropped silently, not
// answered with Invalid.
func TestUnknownTypeFireAndForgetDropped(t *testing.T) {
	sent := &sentFrames{}
	e, _ := newTestEngine(t, sent)

	if err := e.RegisterDriver(0, -1, &engine.Driver{Name: "no-handlers"}); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	req := []byte{0x08, 0x00, 0x00, 0x00, 0x7F, 0x00, 0x00, 0x00} // id=0, unknown type
	if err := e.RxHandler(0, req); err != nil {
		t.Fatalf("RxHandler: %v", err)
	}

	ping := []byte{0x08, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	if err := e.RxHandler(0, ping); err != nil {
		t.Fatalf("RxHandler (ping): %v", err)
	}

	waitForSend(t, sent, 1)
	time.Sleep(20 * time.Millisecond) // give a wrongly-sent drop response a chance to arrive too
	if sent.len() != 1 {
		t.Fatalf("sent %d frame(s), want exactly 1 (the ping response): fire-and-forget unknown type must be dropped", sent.len())
	}
	want := []byte{0x08, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00}
	assertFrame(t, sent.at(0), want)
}

func TestRegisteredHandlerDispatch(t *testing.T) {
	sent := &sentFrames{}
	e, _ := newTestEngine(t, sent)

	called := make(chan uint8, 1)
	driver := &engine.Driver{
		Name: "echo",
		Handlers: []engine.OperationHandler{
			{
				Type: 0x02,
				Name: "echo",
				Handler: func(op *operation.Operation) result.Code {
					called <- op.RequestPayload()[0]
					payload := op.AllocResponse(1)
					payload[0] = 0x42
					return result.Success
				},
			},
		},
	}
	if err := e.RegisterDriver(1, -1, driver); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	req := []byte{0x09, 0x00, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00, 0xAB}
	if err := e.RxHandler(1, req); err != nil {
		t.Fatalf("RxHandler: %v", err)
	}

	select {
	case got := <-called:
		if got != 0xAB {
			t.Fatalf("handler saw payload byte 0x%02x, want 0xAB", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	waitForSend(t, sent, 1)
	resp := sent.at(0)
	if resp[4] != 0x82 { // type 0x02 | response flag
		t.Fatalf("response type = 0x%02x, want 0x82", resp[4])
	}
	if resp[5] != byte(result.Success) {
		t.Fatalf("response result = 0x%02x, want Success", resp[5])
	}
	if resp[8] != 0x42 {
		t.Fatalf("response payload = 0x%02x, want 0x42", resp[8])
	}
}

// TestDeferredSendResponse exercises the exported Engine.SendResponse path
// for handler/driver glue that answers a request from another goroutine
// while the handler waits; the dispatch loop's own response after the
// handler returns is then suppressed because one was already sent.
func TestDeferredSendResponse(t *testing.T) {
	sent := &sentFrames{}
	mt := &api.MockTransport{
		SendFunc: func(cport uint16, frame []byte) error {
			sent.add(frame)
			return nil
		},
	}
	cfg := engine.DefaultConfig(4)
	e := engine.New(cfg, mt)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })

	driver := &engine.Driver{
		Name: "deferred",
		Handlers: []engine.OperationHandler{
			{
				Type: 0x02,
				Name: "deferred",
				Handler: func(op *operation.Operation) result.Code {
					op.Ref()
					answered := make(chan struct{})
					go func() {
						defer close(answered)
						defer op.Unref()
						payload := op.AllocResponse(1)
						payload[0] = 0x99
						if err := e.SendResponse(op, result.Success); err != nil {
							t.Errorf("SendResponse: %v", err)
						}
					}()
					<-answered
					return result.Success
				},
			},
		},
	}
	if err := e.RegisterDriver(3, -1, driver); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	req := []byte{0x08, 0x00, 0x05, 0x00, 0x02, 0x00, 0x00, 0x00}
	if err := e.RxHandler(3, req); err != nil {
		t.Fatalf("RxHandler: %v", err)
	}

	waitForSend(t, sent, 1)
	resp := sent.at(0)
	if resp[4] != 0x82 {
		t.Fatalf("response type = 0x%02x, want 0x82", resp[4])
	}
	if resp[5] != byte(result.Success) {
		t.Fatalf("response result = 0x%02x, want Success", resp[5])
	}
	if resp[8] != 0x99 {
		t.Fatalf("response payload = 0x%02x, want 0x99", resp[8])
	}
}

// TestSendRequestSyncTimeout mirrors spec.md §8 scenario S3: a request
// with no peer ever answering it times out, and op.Result() reports
// result.Timeout since op.Response stays nil.
func TestSendRequestSyncTimeout(t *testing.T) {
	mt := &api.MockTransport{
		SendFunc: func(cport uint16, frame []byte) error { return nil },
	}
	cfg := engine.DefaultConfig(4)
	cfg.OperationTimeout = 30 * time.Millisecond
	e := engine.New(cfg, mt)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })

	if err := e.RegisterDriver(0, -1, &engine.Driver{Name: "silent"}); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}

	op := operation.New(cfg.Pool, 0, 0x02, 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := e.SendRequestSync(ctx, op)
	if err != nil {
		t.Fatalf("SendRequestSync: %v", err)
	}
	if resp != nil {
		t.Fatalf("resp = %+v, want nil on timeout", resp)
	}
	if got := op.Result(); got != result.Timeout {
		t.Fatalf("op.Result() = %v, want Timeout", got)
	}
}

func TestUnregisterDriverDrainsWorker(t *testing.T) {
	sent := &sentFrames{}
	e, _ := newTestEngine(t, sent)

	if err := e.RegisterDriver(2, -1, &engine.Driver{Name: "temp"}); err != nil {
		t.Fatalf("RegisterDriver: %v", err)
	}
	if err := e.UnregisterDriver(2); err != nil {
		t.Fatalf("UnregisterDriver: %v", err)
	}
	if err := e.RegisterDriver(2, -1, &engine.Driver{Name: "temp-again"}); err != nil {
		t.Fatalf("re-RegisterDriver after unregister: %v", err)
	}
}

func waitForSend(t *testing.T, sent *sentFrames, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sent.len() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent frame(s), got %d", n, sent.len())
}

func assertFrame(t *testing.T, got, want []byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frame length = %d, want %d (got % x)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got 0x%02x want 0x%02x (full: % x)", i, got[i], want[i], got)
		}
	}
}
