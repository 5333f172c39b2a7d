package operation_test

import (
	"testing"

	"github.com/greybus-run/greybus/operation"
	"github.com/greybus-run/greybus/pool"
	"github.com/greybus-run/greybus/result"
	"github.com/greybus-run/greybus/wire"
)

func TestNewAndRequestHeader(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	op := operation.New(p, 3, 0x02, 4)

	hdr := op.RequestHeader()
	if hdr.Type != 0x02 || hdr.Size != wire.HeaderSize+4 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if len(op.RequestPayload()) != 4 {
		t.Fatalf("payload len = %d, want 4", len(op.RequestPayload()))
	}
}

func TestAllocResponseEchoesRequest(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	op := operation.New(p, 1, 0x04, 0)

	payload := op.AllocResponse(2)
	payload[0], payload[1] = 0xAA, 0xBB

	respHdr := wire.Decode(op.ResponseBuffer)
	reqHdr := op.RequestHeader()
	if respHdr.ID != reqHdr.ID {
		t.Fatalf("response id %d != request id %d", respHdr.ID, reqHdr.ID)
	}
	if !respHdr.IsResponse() {
		t.Fatalf("response header missing response flag: %+v", respHdr)
	}
	if respHdr.Result != result.Success {
		t.Fatalf("response result = %v, want Success", respHdr.Result)
	}

	if got := op.ResponsePayload(); len(got) != 2 || got[0] != 0xAA || got[1] != 0xBB {
		t.Fatalf("ResponsePayload() = % x, want [aa bb]", got)
	}
}

func TestRequestPayloadSize(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	op := operation.New(p, 1, 0x04, 6)

	if got := op.RequestPayloadSize(); got != 6 {
		t.Fatalf("RequestPayloadSize() = %d, want 6", got)
	}
}

func TestResponsePayloadNilBeforeAlloc(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	op := operation.New(p, 1, 0x04, 0)

	if got := op.ResponsePayload(); got != nil {
		t.Fatalf("ResponsePayload() before AllocResponse = % x, want nil", got)
	}
}

func TestResultReflectsAttachedResponse(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	req := operation.New(p, 1, 0x04, 0)
	resp := operation.New(p, 1, 0x84, 0)
	wire.Encode(resp.RequestBuffer, wire.Header{Size: wire.HeaderSize, Type: 0x84, Result: result.ProtocolBad})

	req.Response = resp
	if got := req.Result(); got != result.ProtocolBad {
		t.Fatalf("Result() = %v, want ProtocolBad", got)
	}
}

func TestResultIsTimeoutWithNoResponse(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	req := operation.New(p, 1, 0x04, 0)

	if got := req.Result(); got != result.Timeout {
		t.Fatalf("Result() = %v, want Timeout", got)
	}
}

func TestMarkRespondedOnce(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	op := operation.New(p, 1, 0x04, 0)

	if err := op.MarkResponded(); err != nil {
		t.Fatalf("first MarkResponded: %v", err)
	}
	if err := op.MarkResponded(); err == nil {
		t.Fatalf("expected second MarkResponded to fail")
	}
}

func TestRefUnrefFreesOnLastRef(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	op := operation.New(p, 1, 0x04, 4)

	op.Ref()
	op.Unref()
	op.Unref() // last ref: frees RequestBuffer back into p

	if got := p.Stats().Released; got == 0 {
		t.Fatalf("expected at least one buffer released back to pool")
	}
}

func TestUnrefReleasesPairedResponse(t *testing.T) {
	p := pool.New(pool.DefaultConfig())
	req := operation.New(p, 1, 0x04, 0)
	resp := operation.New(p, 1, 0x84, 0)
	req.Response = resp

	resp.Ref() // second ref on resp to observe it survives req's first unref
	req.Unref()
	if got := p.Stats().Released; got != 1 {
		t.Fatalf("released = %d after req.Unref, want 1 (resp still referenced)", got)
	}
	resp.Unref()
	if got := p.Stats().Released; got != 2 {
		t.Fatalf("released = %d after last resp.Unref, want 2", got)
	}
}
