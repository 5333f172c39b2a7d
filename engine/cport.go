// File: engine/cport.go
//
// cport is one logical channel's worker: an RX queue, a pending-response
// table, and the goroutine that drains both. Grounded on struct
// gb_cport_driver and gb_pending_message_worker in
// original_source/subsys/greybus/greybus-core.c; the sem_wait-guarded
// linked list becomes concurrency.RingQueue plus a buffered wake
// channel, and the pthread per cport becomes a goroutine.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/greybus-run/greybus/concurrency"
	"github.com/greybus-run/greybus/operation"
)

// rxMessage is either a received operation or a watchdog-triggered
// request to sweep timed-out pending sends, mirroring how the original
// queues its timedout_operation sentinel alongside real traffic on the
// same rx_fifo.
type rxMessage struct {
	op           *operation.Operation
	timeoutSweep bool
}

type cport struct {
	id  uint16
	eng *Engine

	mu     sync.Mutex
	driver *Driver

	rx   *concurrency.RingQueue[rxMessage]
	wake chan struct{}

	txMu sync.Mutex
	tx   []*operation.Operation

	exitWorker     atomic.Bool
	pendingTimeout atomic.Bool
	doneCh         chan struct{}

	wd watchdog
}

func newCport(eng *Engine, id uint16) *cport {
	c := &cport{
		id:     id,
		eng:    eng,
		rx:     concurrency.NewRingQueue[rxMessage](1024),
		wake:   make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
	c.wd.cport = c
	return c
}

func (c *cport) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// enqueue posts msg to the RX queue and wakes the worker, spinning briefly
// if the bounded ring is momentarily full.
func (c *cport) enqueue(msg rxMessage) {
	for !c.rx.Enqueue(msg) {
		time.Sleep(time.Microsecond)
	}
	c.signal()
}

func (c *cport) run() {
	defer close(c.doneCh)

	for {
		<-c.wake

		for {
			msg, ok := c.rx.Dequeue()
			if !ok {
				break
			}
			if msg.timeoutSweep {
				c.cleanTimedOutOperations()
				continue
			}

			hdr := msg.op.RequestHeader()
			if hdr.IsResponse() {
				c.eng.processResponse(c, hdr, msg.op)
			} else {
				c.eng.processRequest(c, hdr, msg.op)
			}
			msg.op.Unref()
		}

		if c.exitWorker.Load() && c.rx.Len() == 0 {
			return
		}
	}
}

// addPending records an outgoing request awaiting a response and starts
// or extends the cport's watchdog. Mirrors the tx_fifo list_add plus
// wd_start in gb_operation_send_request.
func (c *cport) addPending(op *operation.Operation) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.tx = append(c.tx, op)
	c.wd.update(len(c.tx))
}

// removePending removes op from the pending table if present, returning
// whether it was found, and updates the watchdog. Used on send failure;
// findAndCompletePending does its own removal for a matching response.
func (c *cport) removePending(op *operation.Operation) bool {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	for i, pending := range c.tx {
		if pending == op {
			c.tx = append(c.tx[:i], c.tx[i+1:]...)
			c.wd.update(len(c.tx))
			return true
		}
	}
	return false
}

// findAndCompletePending locates the pending request matching a response
// id, detaches it from the tx table, and returns it. Mirrors the
// list_foreach_safe loop in gb_process_response.
func (c *cport) findAndCompletePending(id uint16) *operation.Operation {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	for i, pending := range c.tx {
		if pending.RequestHeader().ID == id {
			c.tx = append(c.tx[:i], c.tx[i+1:]...)
			c.wd.update(len(c.tx))
			return pending
		}
	}
	return nil
}

// cleanTimedOutOperations drops every pending request past the engine's
// operation timeout, invoking each one's callback with no response
// attached. Mirrors gb_clean_timedout_operation.
func (c *cport) cleanTimedOutOperations() {
	c.pendingTimeout.Store(false)

	deadline := c.eng.cfg.OperationTimeout
	now := time.Now()

	c.txMu.Lock()
	var remaining, timedOut []*operation.Operation
	for _, op := range c.tx {
		if now.Sub(op.SentAt()) >= deadline {
			timedOut = append(timedOut, op)
		} else {
			remaining = append(remaining, op)
		}
	}
	c.tx = remaining
	c.wd.update(len(remaining))
	c.txMu.Unlock()

	for _, op := range timedOut {
		if cb := op.Callback(); cb != nil {
			cb(op)
		}
		op.Unref()
	}
}

// flushPending unrefs every still-pending request on shutdown, mirroring
// gb_flush_tx_fifo.
func (c *cport) flushPending() {
	c.txMu.Lock()
	pending := c.tx
	c.tx = nil
	c.wd.update(0)
	c.txMu.Unlock()

	for _, op := range pending {
		op.Unref()
	}
}
