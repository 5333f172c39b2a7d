// File: wire/byteorder.go
//
// Little-endian helpers for the Greybus wire format (spec.md §3). Kept as
// a standalone leaf component, as spec.md's component table calls out a
// dedicated byte-order codec; none of the example repos carries a
// byte-order library for this (the teacher uses raw struct fields over a
// net.Conn and leans on encoding/binary elsewhere), so this wraps the
// standard library rather than inventing a dependency.
package wire

import "encoding/binary"

// PutU16 writes v little-endian into b[0:2].
func PutU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// U16 reads a little-endian uint16 from b[0:2].
func U16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// PutU32 writes v little-endian into b[0:4].
func PutU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// U32 reads a little-endian uint32 from b[0:4].
func U32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
