// File: wire/header.go
//
// The 8-byte Greybus operation header, wire layout from spec.md §3:
//
//	size:u16 | id:u16 | type:u8 | result:u8 | pad:u16   (all little-endian)
//
// Grounded on struct gb_operation_hdr in
// original_source/subsys/greybus/greybus-core.c and its uses throughout
// transport-tcpip.c / transport-uart.c.
package wire

import "github.com/greybus-run/greybus/result"

// HeaderSize is the fixed wire size of an operation header.
const HeaderSize = 8

// ResponseFlag marks the top bit of Type for response frames.
const ResponseFlag uint8 = 0x80

// PingType is the reserved request type answered immediately with success.
const PingType uint8 = 0x00

// MaxPayloadSize bounds a single operation's payload. Carrier-limited in
// the original UniPro/TCP transports to 2KiB; transports reject any frame
// declaring a larger payload before it reaches the engine.
const MaxPayloadSize = 2 * 1024

// MaxFrameSize is the largest legal total frame size (header + payload).
const MaxFrameSize = HeaderSize + MaxPayloadSize

// Header is the decoded form of the 8-byte operation header.
type Header struct {
	Size   uint16
	ID     uint16
	Type   uint8
	Result result.Code
	Pad    uint16
}

// IsResponse reports whether Type's response bit is set.
func (h Header) IsResponse() bool { return h.Type&ResponseFlag != 0 }

// BaseType returns Type with the response bit cleared.
func (h Header) BaseType() uint8 { return h.Type &^ ResponseFlag }

// Encode writes h into the first HeaderSize bytes of buf.
func Encode(buf []byte, h Header) {
	PutU16(buf[0:2], h.Size)
	PutU16(buf[2:4], h.ID)
	buf[4] = h.Type
	buf[5] = uint8(h.Result)
	PutU16(buf[6:8], h.Pad)
}

// Decode reads a Header from the first HeaderSize bytes of buf. Callers
// must ensure len(buf) >= HeaderSize.
func Decode(buf []byte) Header {
	return Header{
		Size:   U16(buf[0:2]),
		ID:     U16(buf[2:4]),
		Type:   buf[4],
		Result: result.Code(buf[5]),
		Pad:    U16(buf[6:8]),
	}
}

// NewResponseHeader builds the header for a response to req: same id,
// Type with the response bit set, given result and total frame size.
func NewResponseHeader(req Header, code result.Code, size uint16) Header {
	return Header{
		Size:   size,
		ID:     req.ID,
		Type:   req.Type | ResponseFlag,
		Result: code,
	}
}
