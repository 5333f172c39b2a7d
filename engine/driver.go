// File: engine/driver.go
//
// Driver and OperationHandler are the per-cport handler table, grounded
// on struct gb_driver / struct gb_operation_handler and
// gb_compare_handlers / find_operation_handler in
// original_source/subsys/greybus/greybus-core.c. Sorting once at
// registration and binary-searching on dispatch is kept verbatim as an
// idiom; qsort+custom comparator becomes sort.Slice, the inline binary
// search becomes a small loop instead of sort.Search to keep the same
// shape as the original.
package engine

import (
	"sort"

	"github.com/greybus-run/greybus/operation"
	"github.com/greybus-run/greybus/result"
)

// InvalidType marks a request type with no possible handler, mirroring
// GB_INVALID_TYPE.
const InvalidType uint8 = 0xff

// HandlerFunc processes one request operation and returns the result
// code to place in its response.
type HandlerFunc func(op *operation.Operation) result.Code

// FastHandlerFunc processes a frame inline on the transport's receive
// path, bypassing the cport's queue and worker goroutine entirely.
// Mirrors gb_operation_handler.fast_handler; handlers that need a
// response must send it themselves.
type FastHandlerFunc func(cport uint16, frame []byte)

// OperationHandler binds one request Type to its handling logic.
type OperationHandler struct {
	Type    uint8
	Name    string
	Handler HandlerFunc
	Fast    FastHandlerFunc
}

// Driver is the set of operation handlers and lifecycle hooks registered
// on a cport.
type Driver struct {
	Name     string
	Handlers []OperationHandler

	// BundleID is not read by the engine: RegisterDriver takes the
	// bundle from its own bundleID argument (negative means no bundle,
	// matching _gb_register_driver's bundle_id < 0 convention).
	BundleID int

	Init         func(cport uint16, bundle *Bundle) error
	Exit         func(cport uint16, bundle *Bundle)
	Connected    func(cport uint16)
	Disconnected func(cport uint16)

	bundle *Bundle
}

func (d *Driver) sortHandlers() {
	sort.Slice(d.Handlers, func(i, j int) bool { return d.Handlers[i].Type < d.Handlers[j].Type })
}

// findHandler binary searches the sorted handler table for t, returning
// nil if none matches.
func (d *Driver) findHandler(t uint8) *OperationHandler {
	if t == InvalidType || len(d.Handlers) == 0 {
		return nil
	}

	l, r := 0, len(d.Handlers)-1
	for l <= r {
		m := (l + r) / 2
		switch {
		case d.Handlers[m].Type < t:
			l = m + 1
		case d.Handlers[m].Type > t:
			r = m - 1
		default:
			return &d.Handlers[m]
		}
	}
	return nil
}
