// File: operation/operation.go
//
// Operation is the in-flight unit of work carried across a cport: a
// request buffer, its eventual response, and the bookkeeping needed to
// correlate the two and free both exactly once. Grounded on struct
// gb_operation and gb_operation_create/_ref/_unref/_destroy in
// original_source/subsys/greybus/greybus-core.c, reworked around Go's
// atomic.Int32 and explicit error returns instead of DEBUGASSERT and
// malloc/free.
package operation

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/greybus-run/greybus/api"
	"github.com/greybus-run/greybus/result"
	"github.com/greybus-run/greybus/wire"
)

// Callback is invoked once an outgoing request's response has arrived or
// the operation has timed out. It runs with one reference held on op;
// the caller must not retain op past the call without taking its own Ref.
type Callback func(op *Operation)

// Operation mirrors the lifecycle of a single Greybus request/response
// exchange on one cport.
type Operation struct {
	CPort uint16

	RequestBuffer  []byte
	ResponseBuffer []byte

	// Response holds the paired response Operation for a request this
	// node sent out; nil until the response (or a timeout) arrives.
	Response *Operation

	callback     Callback
	refCount     atomic.Int32
	hasResponded atomic.Bool
	isBorrowed   bool
	sentAt       time.Time

	pool         api.BytePool
	free         func(buf []byte)
	responseFree func(buf []byte)
}

// New allocates an outgoing request Operation of the given type and
// request payload size, using pool to back the request buffer. Mirrors
// gb_operation_create.
func New(pool api.BytePool, cport uint16, opType uint8, payloadSize int) *Operation {
	buf := pool.Acquire(payloadSize + wire.HeaderSize)
	hdr := wire.Header{Size: uint16(payloadSize + wire.HeaderSize), Type: opType}
	wire.Encode(buf, hdr)

	op := &Operation{CPort: cport, RequestBuffer: buf, pool: pool, free: pool.Release}
	op.refCount.Store(1)
	return op
}

// FromTransportBuffer wraps a buffer handed to the engine by a transport's
// rx_handler into an Operation ready for dispatch. isBorrowed marks
// buffers owned by the transport's own receive pool, which must be freed
// via freeBorrowed rather than the general pool release, mirroring
// is_unipro_rx_buf. pool backs any response this operation later
// allocates via AllocResponse.
func FromTransportBuffer(cport uint16, buf []byte, isBorrowed bool, pool api.BytePool, freeBorrowed func(buf []byte)) *Operation {
	op := &Operation{CPort: cport, RequestBuffer: buf, isBorrowed: isBorrowed, pool: pool, free: freeBorrowed}
	op.refCount.Store(1)
	return op
}

// RequestHeader decodes the header at the front of RequestBuffer.
func (op *Operation) RequestHeader() wire.Header {
	return wire.Decode(op.RequestBuffer)
}

// RequestPayload returns the portion of RequestBuffer past the header.
// Mirrors operation_get_request_payload.
func (op *Operation) RequestPayload() []byte {
	if len(op.RequestBuffer) < wire.HeaderSize {
		return nil
	}
	return op.RequestBuffer[wire.HeaderSize:]
}

// RequestPayloadSize returns the length of RequestPayload(). Mirrors
// operation_get_request_payload_size.
func (op *Operation) RequestPayloadSize() int {
	return len(op.RequestPayload())
}

// ResponsePayload returns the portion of ResponseBuffer past the header,
// or nil if no response has been allocated yet. Mirrors
// operation_get_response_payload.
func (op *Operation) ResponsePayload() []byte {
	if len(op.ResponseBuffer) < wire.HeaderSize {
		return nil
	}
	return op.ResponseBuffer[wire.HeaderSize:]
}

// AllocResponse allocates ResponseBuffer, sized for the given payload, and
// pre-fills its header to echo the request's id and type with the
// response bit set. Returns nil if the pool has no buffer to give,
// mirroring gb_operation_alloc_response's NULL return on allocation
// failure; the caller falls back to a bare out-of-memory response.
func (op *Operation) AllocResponse(payloadSize int) []byte {
	reqHdr := op.RequestHeader()
	size := payloadSize + wire.HeaderSize
	buf := op.pool.Acquire(size)
	if buf == nil {
		return nil
	}
	wire.Encode(buf, wire.NewResponseHeader(reqHdr, result.Success, uint16(size)))
	op.ResponseBuffer = buf
	op.responseFree = op.pool.Release
	return buf[wire.HeaderSize:]
}

// HasResponded reports whether a response has already been sent for this
// operation.
func (op *Operation) HasResponded() bool { return op.hasResponded.Load() }

// MarkResponded records that a response was sent, returning an error if
// one was already sent, mirroring gb_operation_send_response's
// has_responded guard.
func (op *Operation) MarkResponded() error {
	if !op.hasResponded.CompareAndSwap(false, true) {
		return fmt.Errorf("operation: response already sent: %w", api.ErrInvalid)
	}
	return nil
}

// SetCallback attaches the completion callback for an outgoing request and
// takes the extra reference the worker loop releases on completion,
// matching the ref/callback pairing in gb_operation_send_request(_nowait).
func (op *Operation) SetCallback(cb Callback) {
	op.callback = cb
	op.Ref()
}

// Callback returns the attached completion callback, or nil.
func (op *Operation) Callback() Callback { return op.callback }

// MarkSent stamps the time a request was handed to the transport, used by
// the watchdog to detect timeouts.
func (op *Operation) MarkSent() { op.sentAt = time.Now() }

// SentAt returns the time MarkSent was last called, the zero Time if
// never sent.
func (op *Operation) SentAt() time.Time { return op.sentAt }

// Result reports the outcome of a request sent via SendRequest/
// SendRequestSync once its callback has fired: the response's result
// code, or result.Timeout if the watchdog swept it with no response
// attached. Mirrors get_request_result.
func (op *Operation) Result() result.Code {
	if op.Response == nil {
		return result.Timeout
	}
	return op.Response.RequestHeader().Result
}

// Ref increments the reference count. Panics if called on an already-freed
// operation, mirroring the DEBUGASSERT(ref_count > 0) in gb_operation_ref.
func (op *Operation) Ref() {
	if op.refCount.Add(1) <= 1 {
		panic("operation: Ref on a freed operation")
	}
}

// Unref decrements the reference count, releasing both buffers and the
// paired response (if any) once it reaches zero. Mirrors gb_operation_unref.
func (op *Operation) Unref() {
	n := op.refCount.Add(-1)
	if n < 0 {
		panic("operation: Unref underflow")
	}
	if n != 0 {
		return
	}

	if op.free != nil {
		op.free(op.RequestBuffer)
	}
	if op.ResponseBuffer != nil && op.responseFree != nil {
		op.responseFree(op.ResponseBuffer)
	}
	if op.Response != nil {
		op.Response.Unref()
	}
}
