// File: api/transport.go
// Author grounding: momentics-hioload-ws/api/transport.go, api/reactor.go.
//
// Transport is the narrow contract a backend (TCP, UART, ...) must satisfy
// for the operation engine to drive it. It corresponds to spec.md §4.2.
package api

import "context"

// SendAsyncCallback is invoked when an asynchronous send completes.
// status is nil on success; buf is the payload that was sent, for
// correlation by the caller.
type SendAsyncCallback func(status error, buf []byte, user any)

// Transport is the contract the operation engine invokes on a backend.
// A backend implementation never calls back into the engine except
// through the RxHandler it is given at construction time.
type Transport interface {
	// Init is called once at engine start, before any cport is registered.
	Init(ctx context.Context) error

	// Exit is called once at engine stop, after all cports are unregistered.
	Exit() error

	// Listen enables inbound frame acceptance on cport.
	Listen(cport uint16) error

	// StopListening disables inbound frame acceptance on cport.
	StopListening(cport uint16) error

	// Send synchronously transmits a fully framed message (header + payload)
	// on cport.
	Send(cport uint16, frame []byte) error

	// SendAsync is an optional non-blocking send. Backends that don't
	// support it return ErrNotSupported.
	SendAsync(cport uint16, frame []byte, done SendAsyncCallback, user any) error

	// AllocBuf returns a buffer of at least size bytes. The engine never
	// assumes the backing allocator is the Go heap.
	AllocBuf(size int) []byte

	// FreeBuf releases a buffer returned by AllocBuf.
	FreeBuf(buf []byte)

	// RxBufFree releases a buffer that was borrowed from the backend's
	// receive pool (the zero-copy path; see the isBorrowed parameter of
	// operation.FromTransportBuffer).
	RxBufFree(cport uint16, buf []byte)
}

// RxHandler is the single entry point a backend calls into the engine with.
// It corresponds to greybus_rx_handler in spec.md §4.2.
type RxHandler func(cport uint16, frame []byte) error
