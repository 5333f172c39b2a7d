// File: devicemap/devicemap.go
//
// Map is the mutex-guarded cport<->device bijection a transport or driver
// consults to resolve one identity from the other without its own
// synchronization, per spec.md §4.5. No direct C counterpart: the
// original folds this bookkeeping into per-transport fd_context lists
// (see original_source/subsys/greybus/platform/transport-tcpip.c); this
// package lifts it to a transport-agnostic component so TCP, UART, and
// any future backend share one mapping discipline.
package devicemap

import (
	"fmt"
	"sync"

	"github.com/greybus-run/greybus/api"
)

// Map associates cport ids with opaque device handles, one-to-one.
type Map struct {
	mu       sync.RWMutex
	byCPort  map[uint16]any
	byDevice map[any]uint16
}

// New returns an empty Map.
func New() *Map {
	return &Map{byCPort: make(map[uint16]any), byDevice: make(map[any]uint16)}
}

// Add records cport<->device, failing if either side is already mapped.
func (m *Map) Add(cport uint16, device any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byCPort[cport]; exists {
		return fmt.Errorf("devicemap: cport %d already mapped: %w", cport, api.ErrExists)
	}
	if _, exists := m.byDevice[device]; exists {
		return fmt.Errorf("devicemap: device already mapped: %w", api.ErrExists)
	}

	m.byCPort[cport] = device
	m.byDevice[device] = cport
	return nil
}

// Remove erases the mapping for cport, if any.
func (m *Map) Remove(cport uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.byCPort[cport]
	if !ok {
		return
	}
	delete(m.byCPort, cport)
	delete(m.byDevice, device)
}

// DeviceByCPort resolves a device handle from its cport id.
func (m *Map) DeviceByCPort(cport uint16) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byCPort[cport]
	return d, ok
}

// CPortByDevice resolves a cport id from its device handle.
func (m *Map) CPortByDevice(device any) (uint16, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byDevice[device]
	return c, ok
}
