// File: transport/tcp/codec.go
//
// Length-prefixed message framing over a non-blocking socket. Grounded on
// getMessage/sendMessage in
// original_source/subsys/greybus/platform/transport-tcpip.c: read the
// 8-byte header, validate its declared size, then read the remaining
// payload, all tolerant of partial reads/writes.
package tcp

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/greybus-run/greybus/wire"
)

// connReader accumulates bytes from one non-blocking client fd across
// however many readiness events it takes to collect whole frames.
type connReader struct {
	buf []byte
}

// errConnClosed signals the peer closed the connection gracefully
// (recv returning 0), mirroring getMessage's r == 0 case.
var errConnClosed = errors.New("tcp: connection closed by peer")

// pump does one non-blocking read from fd and appends whatever arrived to
// the reader's internal buffer. Returns errConnClosed on graceful EOF, or
// nil if the call would have blocked (EAGAIN) with no error otherwise.
func (c *connReader) pump(fd int) error {
	var scratch [4096]byte
	for {
		n, err := unix.Read(fd, scratch[:])
		if n > 0 {
			c.buf = append(c.buf, scratch[:n]...)
		}
		if err == nil && n == 0 {
			return errConnClosed
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n < len(scratch) {
			// Short read: no more to drain right now without blocking.
			return nil
		}
	}
}

// frames extracts every complete frame currently buffered, validating
// each declared size against wire bounds. Mirrors getMessage's two-stage
// header/payload size checks, applied per frame since TCP may coalesce
// or split messages arbitrarily across reads.
func (c *connReader) frames() ([][]byte, error) {
	var out [][]byte
	for {
		if len(c.buf) < wire.HeaderSize {
			return out, nil
		}
		hdr := wire.Decode(c.buf)
		if hdr.Size < wire.HeaderSize {
			return out, errors.New("tcp: invalid message size")
		}
		if int(hdr.Size) > wire.MaxFrameSize {
			return out, errors.New("tcp: payload exceeds GB_MAX_PAYLOAD_SIZE")
		}
		if len(c.buf) < int(hdr.Size) {
			return out, nil
		}

		frame := make([]byte, hdr.Size)
		copy(frame, c.buf[:hdr.Size])
		out = append(out, frame)
		c.buf = c.buf[hdr.Size:]
	}
}

// writeAll sends the full frame over fd, retrying on short writes and
// EAGAIN. Mirrors sendMessage's send-loop over a partial-write-tolerant
// socket; the EAGAIN backoff is this transliteration's equivalent of the
// original's blocking send(2).
func writeAll(fd int, frame []byte) error {
	for len(frame) > 0 {
		n, err := unix.Write(fd, frame)
		if n > 0 {
			frame = frame[n:]
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(time.Millisecond)
				continue
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return errors.New("tcp: write returned 0, connection gone")
		}
	}
	return nil
}
