// File: transport/tcp/fdcontext.go
//
// fdRegistry tracks every live socket the transport owns: one server
// (listening) socket per cport plus one client socket per accepted
// connection; several clients may be connected on the same cport. Grounded on struct fd_context and the
// fd_context_new/_insert/_erase/_find family in
// original_source/subsys/greybus/platform/transport-tcpip.c, with the
// intrusive sys_dlist_t traded for a plain Go map guarded by a mutex.
package tcp

import "sync"

type fdContextType int

const (
	fdContextServer fdContextType = iota
	fdContextClient
)

// fdContext binds one OS file descriptor to the cport it serves.
type fdContext struct {
	fd    int
	cport uint16
	kind  fdContextType
}

// fdRegistry is the mutex-guarded set of live fdContexts, indexed by fd.
// Mirrors the global fd_list plus fd_list_mutex.
type fdRegistry struct {
	mu   sync.Mutex
	byFd map[int]*fdContext
}

func newFdRegistry() *fdRegistry {
	return &fdRegistry{byFd: make(map[int]*fdContext)}
}

// insert adds ctx if its fd isn't already registered. Mirrors
// fd_context_insert's uniqueness check on the fd key.
func (r *fdRegistry) insert(ctx *fdContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byFd[ctx.fd]; exists {
		return false
	}
	r.byFd[ctx.fd] = ctx
	return true
}

// erase removes and returns the context for fd, if any. Mirrors
// fd_context_erase (the actual close(2) is the caller's job, matching
// fd_context_delete).
func (r *fdRegistry) erase(fd int) *fdContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.byFd[fd]
	if !ok {
		return nil
	}
	delete(r.byFd, fd)
	return ctx
}

// find returns the context registered for fd, if any. Mirrors
// fd_to_context.
func (r *fdRegistry) find(fd int) (*fdContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.byFd[fd]
	return ctx, ok
}

// serverFor returns the listening socket's context for cport, if any.
// Mirrors cport_to_server_context.
func (r *fdRegistry) serverFor(cport uint16) (*fdContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctx := range r.byFd {
		if ctx.kind == fdContextServer && ctx.cport == cport {
			return ctx, true
		}
	}
	return nil, false
}

// clientFor returns the context of a connected client socket for cport,
// if any. When several clients are connected on cport, which one is
// returned follows map iteration order and is not defined; it is not
// necessarily the most recently accepted one. Mirrors
// fd_context_find(-1, cport, FD_CONTEXT_CLIENT) as used by gb_xport_send.
func (r *fdRegistry) clientFor(cport uint16) (*fdContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ctx := range r.byFd {
		if ctx.kind == fdContextClient && ctx.cport == cport {
			return ctx, true
		}
	}
	return nil, false
}

// all returns a snapshot of every registered fd, for shutdown. Mirrors
// fd_context_clear's traversal.
func (r *fdRegistry) all() []*fdContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fdContext, 0, len(r.byFd))
	for _, ctx := range r.byFd {
		out = append(out, ctx)
	}
	return out
}
