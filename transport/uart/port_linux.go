//go:build linux

// File: transport/uart/port_linux.go
//
// devicePort backs Port with a termios-configured device file via
// golang.org/x/sys/unix, the same dependency already used for the TCP
// transport's epoll reactor; tinygo-uartx/tinygo.org/x/drivers (also
// present in the pack) target microcontroller firmware builds and have
// no meaning for a hosted OS process, so they aren't wired here. Mirrors
// gb_xport_uart_init's device_get_binding/uart_irq_rx_enable, minus the
// interrupt registration itself (Go has no ISR context; listener.go's
// ingest loop polls ReadByte from a goroutine instead).
package uart

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// baudRates maps common bit rates to their termios constant, mirroring
// the fixed set of speeds POSIX termios actually supports.
var baudRates = map[uint32]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

type devicePort struct {
	fd int
}

// OpenDevicePort opens path and configures it for raw 8N1 serial I/O at baud.
func OpenDevicePort(path string, baud uint32) (Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", path, err)
	}

	rate, ok := baudRates[baud]
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("uart: unsupported baud rate %d", baud)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uart: get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | rate
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("uart: set termios: %w", err)
	}

	return &devicePort{fd: fd}, nil
}

func (p *devicePort) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := unix.Read(p.fd, b[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, err
		}
		if n == 1 {
			return b[0], nil
		}
	}
}

func (p *devicePort) WriteByte(b byte) error {
	buf := [1]byte{b}
	for {
		n, err := unix.Write(p.fd, buf[:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 1 {
			return nil
		}
	}
}

func (p *devicePort) Close() error {
	return unix.Close(p.fd)
}
