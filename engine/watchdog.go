// File: engine/watchdog.go
//
// watchdog arms a single timer per cport that, on expiry, asks the
// cport's worker to sweep its pending-response table for timed-out
// requests. Grounded on gb_watchdog_update / gb_operation_timeout in
// original_source/subsys/greybus/greybus-core.c: wd_start/wd_cancel
// become time.AfterFunc/Timer.Stop, and the sentinel timedout_operation
// queued onto rx_fifo becomes an rxMessage{timeoutSweep: true}.
package engine

import (
	"sync"
	"time"
)

type watchdog struct {
	cport *cport

	mu    sync.Mutex
	timer *time.Timer
}

// update arms the watchdog if pending > 0, or cancels it if the cport has
// no outgoing requests awaiting a response. Callers race each other from
// both sender and worker goroutines, so the timer itself is guarded here
// rather than relying on the caller's own lock.
func (w *watchdog) update(pending int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if pending == 0 {
		return
	}

	timeout := w.cport.eng.cfg.OperationTimeout
	w.timer = time.AfterFunc(timeout, w.fire)
}

// fire queues a timeout sweep, deduplicating against a sweep that's
// already queued but not yet processed (mirrors gb_operation_timeout's
// list_is_empty guard against double-queuing the sentinel).
func (w *watchdog) fire() {
	c := w.cport
	if !c.pendingTimeout.CompareAndSwap(false, true) {
		return
	}
	c.enqueue(rxMessage{timeoutSweep: true})
}
