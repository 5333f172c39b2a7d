// File: transport/uart/port.go
//
// Port is the narrow byte-stream contract this transport drives, trimmed
// from jangala-dev-devicecode-go/services/hal/internal/halcore.UARTPort
// (WriteByte/Write/Read/Readable) down to the primitives
// gb_xport_uart_isr and sendMessage actually use: one-byte reads for the
// ISR-equivalent ingestion loop, one-byte writes for the polled TX loop.
package uart

// Port is a byte-oriented serial connection.
type Port interface {
	// ReadByte blocks until one byte is available or the port is closed.
	ReadByte() (byte, error)
	// WriteByte blocks until b has been accepted by the underlying device.
	WriteByte(b byte) error
	// Close releases the underlying device.
	Close() error
}
