// File: engine/dispatch.go
//
// Request/response dispatch and the three outgoing-request shapes.
// Grounded on gb_process_request, gb_process_response,
// greybus_rx_handler, gb_operation_send_request(_nowait)(_sync), and
// gb_operation_send_response/gb_operation_send_oom_response in
// original_source/subsys/greybus/greybus-core.c.
package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/greybus-run/greybus/api"
	"github.com/greybus-run/greybus/operation"
	"github.com/greybus-run/greybus/result"
	"github.com/greybus-run/greybus/wire"
)

// RxHandler is the function engines register with a transport as its
// inbound frame callback, satisfying api.RxHandler. Mirrors
// greybus_rx_handler.
func (e *Engine) RxHandler(cportID uint16, frame []byte) error {
	if err := e.checkCPort(cportID); err != nil {
		return err
	}
	c := e.cports[cportID]

	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()
	if driver == nil {
		log.Printf("greybus: cport %d has no driver registered, dropping frame", cportID)
		return nil
	}

	if len(frame) < wire.HeaderSize {
		return fmt.Errorf("engine: frame shorter than header on cport %d: %w", cportID, api.ErrInvalid)
	}
	hdr := wire.Decode(frame)
	if int(hdr.Size) > len(frame) || int(hdr.Size) < wire.HeaderSize {
		return fmt.Errorf("engine: garbage frame size %d on cport %d: %w", hdr.Size, cportID, api.ErrInvalid)
	}

	if e.cfg.Tape != nil {
		if err := e.cfg.Tape.Write(cportID, frame[:hdr.Size]); err != nil {
			log.Printf("greybus: tape write failed: %v", err)
		}
	}

	if h := driver.findHandler(hdr.BaseType()); h != nil && h.Fast != nil {
		h.Fast(cportID, frame[:hdr.Size])
		return nil
	}

	buf := e.cfg.Pool.Acquire(int(hdr.Size))
	copy(buf, frame[:hdr.Size])
	op := operation.FromTransportBuffer(cportID, buf, false, e.cfg.Pool, e.cfg.Pool.Release)

	c.enqueue(rxMessage{op: op})
	return nil
}

// processRequest handles one inbound request: ping, dispatch to the
// driver's handler table, or GB_OP_INVALID for an unrecognized type —
// the latter only when id is nonzero; a fire-and-forget request (id 0)
// with no matching handler is dropped silently rather than answered.
// Mirrors gb_process_request.
func (e *Engine) processRequest(c *cport, hdr wire.Header, op *operation.Operation) {
	if hdr.BaseType() == wire.PingType {
		e.sendResponse(c, op, result.Success)
		return
	}

	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()
	if driver == nil {
		return
	}

	h := driver.findHandler(hdr.BaseType())
	if h == nil {
		log.Printf("greybus: cport %d: invalid operation type %d", c.id, hdr.BaseType())
		if hdr.ID != 0 {
			e.sendResponse(c, op, result.Invalid)
		}
		return
	}

	code := h.Handler(op)
	if hdr.ID != 0 {
		e.sendResponse(c, op, code)
	}
}

// processResponse correlates an inbound response with its pending
// request and invokes the request's callback. Mirrors gb_process_response.
func (e *Engine) processResponse(c *cport, hdr wire.Header, op *operation.Operation) {
	pending := c.findAndCompletePending(hdr.ID)
	if pending == nil {
		log.Printf("greybus: cport %d: no matching request for response id %d, dropping", c.id, hdr.ID)
		return
	}

	op.Ref()
	pending.Response = op
	if cb := pending.Callback(); cb != nil {
		cb(pending)
	}
	pending.Unref()
}

// SendResponse sends a response for op with the given result code, for
// use by driver/handler glue that answers from another goroutine. The
// dispatch loop sends its own response with the handler's returned code
// as soon as the HandlerFunc returns, unless one was already sent; a
// SendResponse call after that point sends nothing and still returns nil.
// Mirrors operation_send_response.
func (e *Engine) SendResponse(op *operation.Operation, code result.Code) error {
	if err := e.checkCPort(op.CPort); err != nil {
		return err
	}
	e.sendResponse(e.cports[op.CPort], op, code)
	return nil
}

// sendResponse sends a response for a request operation, allocating a
// header-only response if the handler didn't call AllocResponse, and
// falling back to a minimal out-of-memory response if that allocation
// fails. Mirrors gb_operation_send_response / gb_operation_send_oom_response.
func (e *Engine) sendResponse(c *cport, op *operation.Operation, code result.Code) {
	if err := op.MarkResponded(); err != nil {
		return
	}

	if op.ResponseBuffer == nil {
		if op.AllocResponse(0) == nil {
			reqHdr := op.RequestHeader()
			if err := e.sendOOMResponse(c, reqHdr); err != nil {
				log.Printf("greybus: cport %d: oom response send failed: %v", c.id, err)
			}
			return
		}
	}

	wire.Encode(op.ResponseBuffer, wire.Header{
		Size:   uint16(len(op.ResponseBuffer)),
		ID:     op.RequestHeader().ID,
		Type:   op.RequestHeader().Type | wire.ResponseFlag,
		Result: code,
	})

	if err := e.transport.Send(c.id, op.ResponseBuffer); err != nil {
		log.Printf("greybus: cport %d: backend send failed: %v", c.id, err)
	}
}

// sendOOMResponse sends a bare 8-byte header response reporting
// out-of-memory, built fresh on each call rather than reused from a
// shared mutable template, so concurrent cports never race on it.
func (e *Engine) sendOOMResponse(c *cport, reqHdr wire.Header) error {
	buf := make([]byte, wire.HeaderSize)
	wire.Encode(buf, wire.NewResponseHeader(reqHdr, result.NoMemory, wire.HeaderSize))
	return e.transport.Send(c.id, buf)
}

// SendRequestNowait sends op asynchronously via the transport's
// SendAsync, invoking callback once the send completes. need_response is
// always false for this path, matching gb_operation_send_request_nowait's
// -ENOTSUP when a caller asks for both. Mirrors the same function.
func (e *Engine) SendRequestNowait(op *operation.Operation, callback operation.Callback) error {
	if err := e.checkCPort(op.CPort); err != nil {
		return err
	}
	c := e.cports[op.CPort]
	c.mu.Lock()
	exiting := false
	if c.driver == nil {
		exiting = true
	}
	c.mu.Unlock()
	if exiting {
		return fmt.Errorf("engine: cport %d not registered: %w", op.CPort, api.ErrNetDown)
	}

	hdr := op.RequestHeader()
	hdr.ID = 0
	wire.Encode(op.RequestBuffer, hdr)

	op.SetCallback(callback)

	err := e.transport.SendAsync(op.CPort, op.RequestBuffer, func(sendErr error, _ []byte, user any) {
		o := user.(*operation.Operation)
		if cb := o.Callback(); cb != nil {
			cb(o)
		}
		o.Unref()
	}, op)
	op.MarkSent()
	if err != nil {
		op.Unref()
	}
	return err
}

// SendRequest sends op and, if needResponse, registers it on the cport's
// pending table under a freshly allocated nonzero id and arms the watchdog. Mirrors
// gb_operation_send_request.
func (e *Engine) SendRequest(op *operation.Operation, callback operation.Callback, needResponse bool) error {
	if err := e.checkCPort(op.CPort); err != nil {
		return err
	}
	c := e.cports[op.CPort]
	c.mu.Lock()
	hasDriver := c.driver != nil
	c.mu.Unlock()
	if !hasDriver {
		return fmt.Errorf("engine: cport %d not registered: %w", op.CPort, api.ErrNetDown)
	}

	hdr := op.RequestHeader()
	hdr.ID = 0
	if needResponse {
		hdr.ID = e.nextRequestID()
	}
	wire.Encode(op.RequestBuffer, hdr)

	if needResponse {
		op.SetCallback(callback)
		op.MarkSent()
		c.addPending(op)
	}

	err := e.transport.Send(op.CPort, op.RequestBuffer)
	op.MarkSent()

	if needResponse && err != nil {
		c.removePending(op)
		op.Unref()
	}
	return err
}

// SendRequestSync sends op and blocks until a response or timeout
// arrives, returning the response Operation. Mirrors
// gb_operation_send_request_sync's semaphore wait, replaced with a
// buffered channel as the Go-idiomatic equivalent of a binary semaphore.
func (e *Engine) SendRequestSync(ctx context.Context, op *operation.Operation) (*operation.Operation, error) {
	done := make(chan struct{}, 1)
	err := e.SendRequest(op, func(completed *operation.Operation) {
		done <- struct{}{}
	}, true)
	if err != nil {
		return nil, err
	}

	select {
	case <-done:
		return op.Response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
