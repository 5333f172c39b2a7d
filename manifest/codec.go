// File: manifest/codec.go
//
// Binary encode/decode for the mnfb image: a 4-byte header followed by a
// flat sequence of 4-byte-aligned descriptors. Framing constants are
// grounded on manifest_pack_header / manifest_pack_desc in
// original_source/subsys/greybus/platform/manifest-generator.c.
package manifest

import (
	"fmt"

	"github.com/greybus-run/greybus/api"
	"github.com/greybus-run/greybus/wire"
)

func packDesc(out []byte, descType DescriptorType, descSize int, payload []byte) []byte {
	start := len(out)
	out = append(out, make([]byte, descSize)...)
	wire.PutU16(out[start:start+2], uint16(descSize))
	out[start+2] = uint8(descType)
	out[start+3] = 0
	copy(out[start+descBase:], payload)
	return out
}

func encode(b *Builder) ([]byte, error) {
	var body []byte

	body = packDesc(body, DescInterface, interfaceDescSize, []byte{b.iface.VendorStringID, b.iface.ProductStringID})

	for _, id := range b.stringIDs {
		s := b.strings[id]
		size := stringDescSize(s.Value)
		payload := make([]byte, 2+len(s.Value))
		payload[0] = uint8(len(s.Value))
		payload[1] = s.ID
		copy(payload[2:], s.Value)
		body = packDesc(body, DescString, size, payload)
	}

	for _, id := range b.bundleIDs {
		bd := b.bundles[id]
		body = packDesc(body, DescBundle, bundleDescSize, []byte{bd.ID, uint8(bd.Class)})
	}

	for _, id := range b.cportIDs {
		cp := b.cports[id]
		payload := make([]byte, 4)
		wire.PutU16(payload[0:2], cp.ID)
		payload[2] = uint8(cp.Class)
		payload[3] = uint8(cp.Protocol)
		body = packDesc(body, DescCPort, cportDescSize, payload)
	}

	total := headerSize + len(body)
	if total > 0xffff {
		return nil, fmt.Errorf("manifest: image size %d exceeds 0xffff: %w", total, api.ErrInvalid)
	}

	out := make([]byte, headerSize, total)
	wire.PutU16(out[0:2], uint16(total))
	out[2] = b.major
	out[3] = b.minor
	return append(out, body...), nil
}

// Decoded is a parsed mnfb image in descriptor-insertion order.
type Decoded struct {
	Major, Minor uint8
	Interface    Interface
	Strings      []String
	Bundles      []Bundle
	CPorts       []CPort
}

// Decode parses an mnfb image produced by Builder.Generate/Give. It is the
// inverse of encode; in this module only the codec's own round-trip tests
// call it.
func Decode(buf []byte) (*Decoded, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("manifest: image shorter than header: %w", api.ErrInvalid)
	}
	total := int(wire.U16(buf[0:2]))
	if total > len(buf) {
		return nil, fmt.Errorf("manifest: declared size %d exceeds buffer %d: %w", total, len(buf), api.ErrInvalid)
	}
	d := &Decoded{Major: buf[2], Minor: buf[3]}

	pos := headerSize
	haveInterface := false
	for pos < total {
		if pos+descBase > total {
			return nil, fmt.Errorf("manifest: truncated descriptor header at %d: %w", pos, api.ErrInvalid)
		}
		size := int(wire.U16(buf[pos : pos+2]))
		descType := DescriptorType(buf[pos+2])
		if size < descBase || pos+size > total {
			return nil, fmt.Errorf("manifest: invalid descriptor size %d at %d: %w", size, pos, api.ErrInvalid)
		}
		payload := buf[pos+descBase : pos+size]

		switch descType {
		case DescInterface:
			if len(payload) < 2 {
				return nil, fmt.Errorf("manifest: short interface payload: %w", api.ErrInvalid)
			}
			d.Interface = Interface{VendorStringID: payload[0], ProductStringID: payload[1]}
			haveInterface = true
		case DescString:
			if len(payload) < 2 {
				return nil, fmt.Errorf("manifest: short string payload: %w", api.ErrInvalid)
			}
			strLen := int(payload[0])
			if 2+strLen > len(payload) {
				return nil, fmt.Errorf("manifest: string length %d exceeds payload: %w", strLen, api.ErrInvalid)
			}
			d.Strings = append(d.Strings, String{ID: payload[1], Value: string(payload[2 : 2+strLen])})
		case DescBundle:
			if len(payload) < 2 {
				return nil, fmt.Errorf("manifest: short bundle payload: %w", api.ErrInvalid)
			}
			d.Bundles = append(d.Bundles, Bundle{ID: payload[0], Class: BundleClass(payload[1])})
		case DescCPort:
			if len(payload) < 4 {
				return nil, fmt.Errorf("manifest: short cport payload: %w", api.ErrInvalid)
			}
			d.CPorts = append(d.CPorts, CPort{
				ID:       wire.U16(payload[0:2]),
				Class:    BundleClass(payload[2]),
				Protocol: CPortProtocol(payload[3]),
			})
		default:
			return nil, fmt.Errorf("manifest: unknown descriptor type %d: %w", descType, api.ErrInvalid)
		}

		pos += size
	}

	if !haveInterface {
		return nil, fmt.Errorf("manifest: missing interface descriptor: %w", api.ErrInvalid)
	}
	return d, nil
}
