// File: manifest/descriptor.go
//
// Descriptor types and wire sizes for the compact binary manifest format
// ("mnfb"), per spec.md §3/§4.6/§6. Exact framing (descriptor sizes,
// string-descriptor byte order) is grounded on
// original_source/subsys/greybus/platform/manifest_.h and
// manifest-generator.c, which this repo's builder/codec reimplements in
// idiomatic Go rather than transliterating.
package manifest

// DescriptorType enumerates the mnfb descriptor kinds.
type DescriptorType uint8

const (
	DescInterface DescriptorType = 1
	DescString    DescriptorType = 2
	DescBundle    DescriptorType = 3
	DescCPort     DescriptorType = 4
)

const (
	headerSize = 4 // size:u16 | major:u8 | minor:u8
	descBase   = 4 // size:u16 | type:u8 | 0:u8

	interfaceDescSize = descBase + 4 // vendor:u8, product:u8, 2 pad
	bundleDescSize    = descBase + 4 // id:u8, class:u8, 2 pad
	cportDescSize     = descBase + 4 // id:u16, class:u8, protocol:u8
	stringDescBase    = descBase + 2 // length:u8, id:u8, then string bytes
	stringMaxLen      = 0xff
)

// BundleClass and CPortProtocol are well-known class/protocol identifiers,
// per spec.md §3. Only the control protocol is reserved here; device-class
// protocols (GPIO, I2C, SPI, ...) are out of scope per spec.md §1.
type BundleClass uint8

const (
	BundleClassControl BundleClass = 0x00
)

type CPortProtocol uint8

const (
	ProtocolControl CPortProtocol = 0x00
)

// Interface is the singleton Interface descriptor.
type Interface struct {
	VendorStringID  uint8
	ProductStringID uint8
}

// String is a String descriptor; referenced by id from Interface and other
// descriptors.
type String struct {
	ID    uint8
	Value string
}

func stringDescSize(s string) int {
	size := stringDescBase + len(s)
	if mod := size % 4; mod != 0 {
		size += 4 - mod
	}
	return size
}

// Bundle describes one device-class group of cports.
type Bundle struct {
	ID    uint8
	Class BundleClass
}

// CPort describes one logical channel within a bundle.
type CPort struct {
	ID       uint16
	Class    BundleClass
	Protocol CPortProtocol
}
