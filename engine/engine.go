// File: engine/engine.go
//
// Engine is the facade over the operation engine: cport registration,
// listen/stop, and the three outgoing request shapes. Shaped after the
// Config/DefaultConfig/New/Start/Shutdown facade in
// momentics-hioload-ws/server/hioload.go; the underlying state machine
// is grounded on gb_init/gb_register_driver/gb_unregister_driver/
// gb_listen/gb_stop_listening/gb_operation_send_request* in
// original_source/subsys/greybus/greybus-core.c.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/greybus-run/greybus/api"
	"github.com/greybus-run/greybus/devicemap"
	"github.com/greybus-run/greybus/operation"
	"github.com/greybus-run/greybus/pool"
	"github.com/greybus-run/greybus/tape"
)

// Config controls the engine's cport count, buffer pool, and timing.
type Config struct {
	// CPortCount is the number of logical channels the engine serves.
	CPortCount int
	// OperationTimeout bounds how long an outgoing request waits for a
	// response before its callback fires with no Response attached.
	// Mirrors TIMEOUT_IN_MS (1000ms) in greybus-core.c.
	OperationTimeout time.Duration
	// Pool backs request/response buffer allocation. DefaultConfig
	// supplies a size-classed pool.New; tests may substitute a
	// MockTransport-friendly pool.
	Pool api.BytePool
	// Tape, if set, records every inbound frame before it's dispatched.
	Tape *tape.Recorder
}

// DefaultConfig returns sane defaults for cportCount logical channels.
func DefaultConfig(cportCount int) Config {
	return Config{
		CPortCount:       cportCount,
		OperationTimeout: time.Second,
		Pool:             pool.New(pool.DefaultConfig()),
	}
}

// Bundle is a runtime grouping of cports under one device-class bundle
// id, created lazily on first driver registration that references it.
// Grounded on struct gb_bundle.
type Bundle struct {
	ID uint8
}

// Engine owns all per-cport state and the transport it drives.
type Engine struct {
	cfg       Config
	transport api.Transport

	cports []*cport

	bundlesMu sync.Mutex
	bundles   map[uint8]*Bundle

	requestID atomic.Uint32
	started   atomic.Bool

	Devices *devicemap.Map
}

// New builds an Engine bound to transport, with cfg.CPortCount workers
// ready to accept RegisterDriver calls. It does not start the transport;
// call Start for that.
func New(cfg Config, transport api.Transport) *Engine {
	if cfg.Pool == nil {
		cfg.Pool = pool.New(pool.DefaultConfig())
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = time.Second
	}

	e := &Engine{
		cfg:       cfg,
		transport: transport,
		bundles:   make(map[uint8]*Bundle),
		Devices:   devicemap.New(),
	}
	e.cports = make([]*cport, cfg.CPortCount)
	for i := range e.cports {
		e.cports[i] = newCport(e, uint16(i))
	}
	return e
}

func (e *Engine) checkCPort(cport uint16) error {
	if int(cport) >= len(e.cports) {
		return fmt.Errorf("engine: cport %d out of range [0,%d): %w", cport, len(e.cports), api.ErrInvalid)
	}
	return nil
}

// Start initializes the transport. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	return e.transport.Init(ctx)
}

// Shutdown unregisters every driver and tears down the transport.
// Idempotent. Mirrors gb_deinit.
func (e *Engine) Shutdown() error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}
	for i := range e.cports {
		if err := e.UnregisterDriver(uint16(i)); err != nil {
			log.Printf("greybus: error unregistering cport %d during shutdown: %v", i, err)
		}
	}
	return e.transport.Exit()
}

// bundleFor returns (creating if necessary) the runtime Bundle for id.
func (e *Engine) bundleFor(id uint8) *Bundle {
	e.bundlesMu.Lock()
	defer e.bundlesMu.Unlock()

	if b, ok := e.bundles[id]; ok {
		return b
	}
	b := &Bundle{ID: id}
	e.bundles[id] = b
	return b
}

// BundleByID returns the runtime Bundle for id, if any cport has
// registered against it. Supplements gb_bundle_get_by_id.
func (e *Engine) BundleByID(id uint8) (*Bundle, bool) {
	e.bundlesMu.Lock()
	defer e.bundlesMu.Unlock()
	b, ok := e.bundles[id]
	return b, ok
}

// RegisterDriver attaches driver to cport, sorts its handler table,
// invokes driver.Init, and starts the cport's worker goroutine. Mirrors
// _gb_register_driver.
func (e *Engine) RegisterDriver(cportID uint16, bundleID int, driver *Driver) error {
	if err := e.checkCPort(cportID); err != nil {
		return err
	}
	if driver == nil {
		return fmt.Errorf("engine: nil driver: %w", api.ErrInvalid)
	}

	c := e.cports[cportID]

	c.mu.Lock()
	existing := c.driver
	c.mu.Unlock()
	if existing != nil {
		return fmt.Errorf("engine: cport %d already has driver %q registered: %w", cportID, existing.Name, api.ErrExists)
	}

	if bundleID >= 0 {
		driver.bundle = e.bundleFor(uint8(bundleID))
	}

	// Init runs unlocked: it may itself call back into the engine (e.g.
	// Listen on another cport) and must not be able to deadlock against
	// this cport's mutex.
	if driver.Init != nil {
		if err := driver.Init(cportID, driver.bundle); err != nil {
			return fmt.Errorf("engine: init driver %q on cport %d: %w", driver.Name, cportID, err)
		}
	}
	driver.sortHandlers()

	c.mu.Lock()
	if c.driver != nil {
		c.mu.Unlock()
		return fmt.Errorf("engine: cport %d already has driver %q registered: %w", cportID, c.driver.Name, api.ErrExists)
	}
	c.exitWorker.Store(false)
	c.doneCh = make(chan struct{})
	c.driver = driver
	c.mu.Unlock()

	go c.run()
	return nil
}

// UnregisterDriver stops listening, drains the cport's worker, flushes
// any pending outgoing requests, and invokes driver.Exit. Mirrors
// gb_unregister_driver.
func (e *Engine) UnregisterDriver(cportID uint16) error {
	if err := e.checkCPort(cportID); err != nil {
		return err
	}

	c := e.cports[cportID]
	c.mu.Lock()
	driver := c.driver
	if driver == nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_ = e.transport.StopListening(cportID)

	c.exitWorker.Store(true)
	c.signal()
	<-c.doneCh

	c.flushPending()

	c.mu.Lock()
	c.driver = nil
	c.mu.Unlock()

	if driver.Exit != nil {
		driver.Exit(cportID, driver.bundle)
	}
	return nil
}

// Listen opens cport's transport listener. The cport must have a driver
// registered. Mirrors gb_listen.
func (e *Engine) Listen(cportID uint16) error {
	if err := e.checkCPort(cportID); err != nil {
		return err
	}
	c := e.cports[cportID]
	c.mu.Lock()
	hasDriver := c.driver != nil
	c.mu.Unlock()
	if !hasDriver {
		return fmt.Errorf("engine: no driver registered on cport %d: %w", cportID, api.ErrInvalid)
	}
	return e.transport.Listen(cportID)
}

// StopListening closes cport's transport listener. Mirrors
// gb_stop_listening.
func (e *Engine) StopListening(cportID uint16) error {
	if err := e.checkCPort(cportID); err != nil {
		return err
	}
	c := e.cports[cportID]
	c.mu.Lock()
	hasDriver := c.driver != nil
	c.mu.Unlock()
	if !hasDriver {
		return fmt.Errorf("engine: no driver registered on cport %d: %w", cportID, api.ErrInvalid)
	}
	return e.transport.StopListening(cportID)
}

// Event identifies a connection lifecycle notification. Supplements
// gb_notify / enum gb_event.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
)

// Notify invokes the registered driver's Connected/Disconnected hook for
// cport. Supplements gb_notify.
func (e *Engine) Notify(cportID uint16, event Event) error {
	if err := e.checkCPort(cportID); err != nil {
		return err
	}
	c := e.cports[cportID]
	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()

	if driver == nil {
		return fmt.Errorf("engine: no driver registered on cport %d: %w", cportID, api.ErrInvalid)
	}

	switch event {
	case EventConnected:
		if driver.Connected != nil {
			driver.Connected(cportID)
		}
	case EventDisconnected:
		if driver.Disconnected != nil {
			driver.Disconnected(cportID)
		}
	default:
		return fmt.Errorf("engine: unknown event %d: %w", event, api.ErrInvalid)
	}
	return nil
}

// NewRequest allocates an outgoing request Operation for cport.
func (e *Engine) NewRequest(cportID uint16, opType uint8, payloadSize int) (*operation.Operation, error) {
	if err := e.checkCPort(cportID); err != nil {
		return nil, err
	}
	return operation.New(e.cfg.Pool, cportID, opType, payloadSize), nil
}

func (e *Engine) nextRequestID() uint16 {
	for {
		id := uint16(e.requestID.Add(1))
		if id != 0 {
			return id
		}
	}
}
