// File: transport/tcp/listener.go
//
// Transport implements api.Transport with one TCP listening socket per
// cport, a single epoll-driven service goroutine, and length-prefixed
// framing. Grounded on gb_transport_backend_init/netsetup/service_thread/
// accept_new_connection/handle_client_input/gb_xport_send in
// original_source/subsys/greybus/platform/transport-tcpip.c, with
// pthread + poll(2) replaced by a goroutine over the epoll reactor in
// reactor_linux.go (itself grounded on
// momentics-hioload-ws/reactor/reactor_linux.go's golang.org/x/sys/unix
// usage).
package tcp

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/greybus-run/greybus/api"
)

// BasePort is the first TCP port used, for cport 0. Cport N binds to
// BasePort+N. Mirrors GB_TRANSPORT_TCPIP_BASE_PORT.
const BasePort = 4242

// Backlog is the listen(2) backlog depth. Mirrors GB_TRANSPORT_TCPIP_BACKLOG.
const Backlog = 10

// Config controls the TCP transport's port range and DNS-SD advertisement.
type Config struct {
	// CPortCount is the number of per-cport listening sockets to create.
	CPortCount int
	// BasePort overrides BasePort if nonzero.
	BasePort int
	// Backlog overrides Backlog if nonzero.
	Backlog int
	// ServiceInstance names this node in the _greybus._tcp.local. DNS-SD
	// advertisement. Defaults to "greybus" if empty.
	ServiceInstance string
	// DisableMDNS skips the DNS-SD responder entirely, useful for tests
	// that don't want to bind a multicast UDP socket.
	DisableMDNS bool
}

// Transport is a TCP-per-cport backend satisfying api.Transport.
type Transport struct {
	cfg Config
	rx  api.RxHandler

	reactor *epollReactor
	fds     *fdRegistry
	readers map[int]*connReader

	mu        sync.Mutex
	listening map[uint16]bool

	closeCh chan struct{}
	doneCh  chan struct{}

	mdns *mdnsResponder
}

// New builds a Transport that delivers inbound frames to rx. It does not
// touch the network until Init is called.
func New(cfg Config, rx api.RxHandler) *Transport {
	if cfg.BasePort == 0 {
		cfg.BasePort = BasePort
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = Backlog
	}
	if cfg.ServiceInstance == "" {
		cfg.ServiceInstance = "greybus"
	}
	return &Transport{
		cfg:       cfg,
		rx:        rx,
		fds:       newFdRegistry(),
		readers:   make(map[int]*connReader),
		listening: make(map[uint16]bool),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

var _ api.Transport = (*Transport)(nil)

// Init binds and listens cfg.CPortCount sockets, starts the service
// goroutine, and advertises the service over DNS-SD. Mirrors
// gb_transport_backend_init/netsetup.
func (t *Transport) Init(ctx context.Context) error {
	reactor, err := newEpollReactor()
	if err != nil {
		return fmt.Errorf("tcp: epoll create: %w", err)
	}
	t.reactor = reactor

	for cport := 0; cport < t.cfg.CPortCount; cport++ {
		fd, err := t.bindListener(uint16(cport))
		if err != nil {
			return fmt.Errorf("tcp: cport %d: %w", cport, err)
		}
		if !t.fds.insert(&fdContext{fd: fd, cport: uint16(cport), kind: fdContextServer}) {
			unix.Close(fd)
			return fmt.Errorf("tcp: cport %d: duplicate fd %d", cport, fd)
		}
		if err := t.reactor.register(fd); err != nil {
			return fmt.Errorf("tcp: cport %d: epoll register: %w", cport, err)
		}
		log.Printf("greybus: cport %d mapped to TCP port %d", cport, t.cfg.BasePort+cport)
	}

	go t.serviceLoop()

	if !t.cfg.DisableMDNS {
		t.mdns = newMDNSResponder(t.cfg.ServiceInstance, t.cfg.BasePort)
		if err := t.mdns.start(); err != nil {
			log.Printf("greybus: mdns advertisement failed to start: %v", err)
			t.mdns = nil
		}
	}

	return nil
}

// bindListener creates, binds, and listens a socket for cport, preferring
// IPv6 and falling back to IPv4. Mirrors netsetup's per-cport loop.
func (t *Transport) bindListener(cport uint16) (int, error) {
	port := t.cfg.BasePort + int(cport)

	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	if err == nil {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
		if bindErr := unix.Bind(fd, &unix.SockaddrInet6{Port: port}); bindErr != nil {
			unix.Close(fd)
			fd = -1
			err = bindErr
		}
	}
	if fd < 0 {
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			return -1, fmt.Errorf("socket: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
		}
		if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("bind: %w", err)
		}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}
	if err := unix.Listen(fd, t.cfg.Backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	return fd, nil
}

// Exit stops the service goroutine, the DNS-SD responder, and closes
// every socket. Mirrors fd_context_clear as invoked on service_thread
// shutdown.
func (t *Transport) Exit() error {
	close(t.closeCh)
	<-t.doneCh

	if t.mdns != nil {
		t.mdns.stop()
	}

	for _, ctx := range t.fds.all() {
		t.fds.erase(ctx.fd)
		t.reactor.unregister(ctx.fd)
		unix.Close(ctx.fd)
	}
	return t.reactor.close()
}

// Listen makes the service loop keep connections accepted on cport's
// listening socket. Mirrors gb_xport_listen_start.
func (t *Transport) Listen(cport uint16) error {
	t.mu.Lock()
	t.listening[cport] = true
	t.mu.Unlock()
	return nil
}

// StopListening makes the service loop close each new connection on
// cport's listening socket right after accepting it; existing
// connections are left alone. Mirrors gb_xport_listen__stop.
func (t *Transport) StopListening(cport uint16) error {
	t.mu.Lock()
	delete(t.listening, cport)
	t.mu.Unlock()
	return nil
}

func (t *Transport) isListening(cport uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening[cport]
}

// Send writes frame to cport's connected client socket in full, retrying
// on partial writes. Mirrors gb_xport_send/sendMessage.
func (t *Transport) Send(cport uint16, frame []byte) error {
	ctx, ok := t.fds.clientFor(cport)
	if !ok {
		return fmt.Errorf("tcp: cport %d has no connected client: %w", cport, api.ErrInvalid)
	}
	if err := writeAll(ctx.fd, frame); err != nil {
		t.closeConn(ctx.fd)
		return fmt.Errorf("tcp: cport %d: send: %w", cport, err)
	}
	return nil
}

// SendAsync is unsupported by this backend. Mirrors gb_xport.send_async
// being NULL in the reference implementation.
func (t *Transport) SendAsync(cport uint16, frame []byte, done api.SendAsyncCallback, user any) error {
	return api.ErrNotSupported
}

// AllocBuf/FreeBuf delegate to the Go heap; this backend has no pooled
// or zero-copy allocator of its own. Mirrors gb_xport_alloc_buf/_free_buf.
func (t *Transport) AllocBuf(size int) []byte { return make([]byte, size) }
func (t *Transport) FreeBuf(buf []byte)       {}

// RxBufFree is a no-op: this backend never hands out borrowed receive
// buffers (see the copy-on-receive path in engine.RxHandler).
func (t *Transport) RxBufFree(cport uint16, buf []byte) {}

// serviceLoop is the single goroutine equivalent of service_thread: wait
// for readiness, dispatch accepts and client input.
func (t *Transport) serviceLoop() {
	defer close(t.doneCh)

	for {
		select {
		case <-t.closeCh:
			return
		default:
		}

		fds, err := t.reactor.wait(100)
		if err != nil {
			log.Printf("greybus: tcp: epoll wait: %v", err)
			return
		}

		for _, fd := range fds {
			ctx, ok := t.fds.find(fd)
			if !ok {
				continue
			}
			switch ctx.kind {
			case fdContextServer:
				t.acceptNewConnection(ctx)
			case fdContextClient:
				t.handleClientInput(ctx)
			}
		}
	}
}

// acceptNewConnection accepts one pending connection on a listening
// socket and registers it as a client fd context bound to the same
// cport. Mirrors accept_new_connection.
func (t *Transport) acceptNewConnection(ctx *fdContext) {
	if !t.isListening(ctx.cport) {
		// Drain and drop: StopListening leaves the socket bound but
		// refuses new peers.
		fd, _, err := unix.Accept(ctx.fd)
		if err == nil {
			unix.Close(fd)
		}
		return
	}

	fd, _, err := unix.Accept(ctx.fd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			log.Printf("greybus: tcp: accept on cport %d: %v", ctx.cport, err)
		}
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		log.Printf("greybus: tcp: set nonblocking on accepted fd: %v", err)
		unix.Close(fd)
		return
	}

	client := &fdContext{fd: fd, cport: ctx.cport, kind: fdContextClient}
	if !t.fds.insert(client) {
		unix.Close(fd)
		return
	}
	if err := t.reactor.register(fd); err != nil {
		log.Printf("greybus: tcp: epoll register accepted fd: %v", err)
		t.fds.erase(fd)
		unix.Close(fd)
		return
	}
	t.readers[fd] = &connReader{}
	log.Printf("greybus: cport %d accepted connection as fd %d", ctx.cport, fd)
}

// handleClientInput drains whatever is available on ctx.fd, extracts
// complete frames, and dispatches each to the engine's rx handler.
// Mirrors handle_client_input/getMessage.
func (t *Transport) handleClientInput(ctx *fdContext) {
	reader := t.readers[ctx.fd]
	if reader == nil {
		reader = &connReader{}
		t.readers[ctx.fd] = reader
	}

	if err := reader.pump(ctx.fd); err != nil {
		t.closeConn(ctx.fd)
		return
	}

	frames, err := reader.frames()
	if err != nil {
		log.Printf("greybus: tcp: cport %d: %v", ctx.cport, err)
		t.closeConn(ctx.fd)
		return
	}

	for _, frame := range frames {
		if err := t.rx(ctx.cport, frame); err != nil {
			log.Printf("greybus: tcp: cport %d failed to handle message: %v", ctx.cport, err)
			t.closeConn(ctx.fd)
			return
		}
	}
}

// closeConn tears down one client connection. Mirrors fd_context_erase
// followed by fd_context_delete's close(2).
func (t *Transport) closeConn(fd int) {
	t.reactor.unregister(fd)
	t.fds.erase(fd)
	delete(t.readers, fd)
	unix.Close(fd)
}
