// File: tape/tape.go
//
// Record/replay capture of inbound frames, grounded on
// gb_tape_register_mechanism / gb_tape_communication / gb_tape_stop /
// gb_tape_replay in original_source/subsys/greybus/greybus-core.c.
// The C mechanism struct (open/close/read/write function pointers) is
// replaced by the stdlib io.Writer/io.Reader the caller already has
// (a file, a bytes.Buffer, anything), matching how the rest of this
// module leans on narrow interfaces instead of bespoke vtables.
package tape

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const recordHeaderSize = 4 // size:u16 | cport:u16, little-endian

// Recorder appends every captured frame as a
// {size:u16,cport:u16}+raw-bytes record.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRecorder wraps w for tape capture. Safe for concurrent Write calls
// from multiple cport workers, matching the original's single shared
// gb_tape_fd.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Write appends one record for a frame received on cport.
func (r *Recorder) Write(cport uint16, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(frame)))
	binary.LittleEndian.PutUint16(hdr[2:4], cport)

	if _, err := r.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("tape: writing record header: %w", err)
	}
	if _, err := r.w.Write(frame); err != nil {
		return fmt.Errorf("tape: writing record body: %w", err)
	}
	return nil
}

// Replay reads tape records from r in order and calls inject for each,
// re-submitting captured frames the way gb_tape_replay re-feeds them
// through greybus_rx_handler.
func Replay(r io.Reader, inject func(cport uint16, frame []byte) error) error {
	var hdr [recordHeaderSize]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("tape: reading record header: %w", err)
		}

		size := binary.LittleEndian.Uint16(hdr[0:2])
		cport := binary.LittleEndian.Uint16(hdr[2:4])

		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("tape: reading record body: %w", err)
		}
		if err := inject(cport, buf); err != nil {
			return err
		}
	}
}
