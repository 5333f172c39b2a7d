// File: manifest/builder.go
//
// Builder accumulates descriptors and hands off an immutable mnfb image,
// mirroring the accumulate-then-give lifecycle of manifest_new /
// manifest_mnfb_give in
// original_source/include/greybus/manifecto/manifest.h, reworked around a
// single in-memory struct instead of a heap handle passed by pointer.
package manifest

import (
	"fmt"
	"sort"

	"github.com/greybus-run/greybus/api"
)

// Builder accumulates descriptors for a single interface manifest. The
// zero value is not usable; construct with NewBuilder.
type Builder struct {
	major, minor uint8

	iface     *Interface
	strings   map[uint8]String
	bundles   map[uint8]Bundle
	cports    map[uint16]CPort
	stringIDs []uint8
	bundleIDs []uint8
	cportIDs  []uint16

	given bool
}

// NewBuilder starts a manifest at the given major.minor version.
func NewBuilder(major, minor uint8) *Builder {
	return &Builder{
		major:   major,
		minor:   minor,
		strings: make(map[uint8]String),
		bundles: make(map[uint8]Bundle),
		cports:  make(map[uint16]CPort),
	}
}

func (b *Builder) checkNotGiven() error {
	if b.given {
		return api.NewError("manifest: builder already given")
	}
	return nil
}

// SetInterface sets the singleton Interface descriptor. Calling it twice is
// an error, matching manifest_add_interface_desc's one-shot semantics.
func (b *Builder) SetInterface(vendorStringID, productStringID uint8) error {
	if err := b.checkNotGiven(); err != nil {
		return err
	}
	if b.iface != nil {
		return fmt.Errorf("manifest: interface descriptor already set: %w", api.ErrExists)
	}
	b.iface = &Interface{VendorStringID: vendorStringID, ProductStringID: productStringID}
	return nil
}

// AddString registers a String descriptor. Duplicate ids are rejected.
func (b *Builder) AddString(id uint8, value string) error {
	if err := b.checkNotGiven(); err != nil {
		return err
	}
	if _, exists := b.strings[id]; exists {
		return fmt.Errorf("manifest: string id %d already registered: %w", id, api.ErrExists)
	}
	if len(value) > stringMaxLen {
		return fmt.Errorf("manifest: string id %d exceeds %d bytes: %w", id, stringMaxLen, api.ErrInvalid)
	}
	b.strings[id] = String{ID: id, Value: value}
	b.stringIDs = append(b.stringIDs, id)
	return nil
}

// AddBundle registers a Bundle descriptor. Duplicate ids are rejected.
func (b *Builder) AddBundle(id uint8, class BundleClass) error {
	if err := b.checkNotGiven(); err != nil {
		return err
	}
	if _, exists := b.bundles[id]; exists {
		return fmt.Errorf("manifest: bundle id %d already registered: %w", id, api.ErrExists)
	}
	b.bundles[id] = Bundle{ID: id, Class: class}
	b.bundleIDs = append(b.bundleIDs, id)
	return nil
}

// AddCPort registers a CPort descriptor. Duplicate ids are rejected.
func (b *Builder) AddCPort(id uint16, class BundleClass, protocol CPortProtocol) error {
	if err := b.checkNotGiven(); err != nil {
		return err
	}
	if _, exists := b.cports[id]; exists {
		return fmt.Errorf("manifest: cport id %d already registered: %w", id, api.ErrExists)
	}
	b.cports[id] = CPort{ID: id, Class: class, Protocol: protocol}
	b.cportIDs = append(b.cportIDs, id)
	return nil
}

// CPortIDs returns the ids of all registered cports in ascending order.
// Grounded on manifest_get_cports, which exposes the same set for an
// xport to pre-allocate its per-cport listeners before the manifest is
// ever sent over the wire.
func (b *Builder) CPortIDs() []uint16 {
	out := make([]uint16, len(b.cportIDs))
	copy(out, b.cportIDs)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CPortsValid reports whether the registered cport ids form a contiguous
// range starting at their minimum value, per spec.md §4.6/§8 invariant 7.
// An empty cport set is trivially valid.
func (b *Builder) CPortsValid() bool {
	ids := b.CPortIDs()
	if len(ids) == 0 {
		return true
	}
	base := ids[0]
	for i, id := range ids {
		if id != base+uint16(i) {
			return false
		}
	}
	return true
}

// Generate packs the accumulated descriptors into an mnfb image without
// transferring ownership; the builder remains usable.
func (b *Builder) Generate() ([]byte, error) {
	if b.iface == nil {
		return nil, fmt.Errorf("manifest: no interface descriptor: %w", api.ErrInvalid)
	}
	return encode(b)
}

// Give packs the manifest and transfers ownership of the builder's state to
// the caller: the returned bytes are final and the builder may not be used
// again. Mirrors manifest_mnfb_give's hand-off-and-forget contract.
func (b *Builder) Give() ([]byte, error) {
	out, err := b.Generate()
	if err != nil {
		return nil, err
	}
	b.given = true
	b.iface = nil
	b.strings = nil
	b.bundles = nil
	b.cports = nil
	return out, nil
}
