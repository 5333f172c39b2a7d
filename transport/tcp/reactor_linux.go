//go:build linux

// File: transport/tcp/reactor_linux.go
//
// A minimal level-triggered epoll(7) reactor. Grounded on
// momentics-hioload-ws/reactor/reactor_linux.go's use of
// golang.org/x/sys/unix for EpollCreate1/EpollCtl/EpollWait, simplified
// to level-triggered readability events since the codec here tolerates
// partial reads and re-arms itself every poll.
package tcp

import "golang.org/x/sys/unix"

type epollReactor struct {
	epfd int
}

func newEpollReactor() (*epollReactor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &epollReactor{epfd: epfd}, nil
}

// register arms fd for readability events.
func (r *epollReactor) register(fd int) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, ev)
}

// unregister disarms fd. Safe to call on an fd already closed out from
// under the reactor; EBADF is swallowed since the close already did the
// kernel-side cleanup.
func (r *epollReactor) unregister(fd int) {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks until at least one registered fd is readable (or timeoutMs
// elapses, -1 for no timeout) and returns their fds.
func (r *epollReactor) wait(timeoutMs int) ([]int, error) {
	var events [128]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	fds := make([]int, 0, n)
	for i := 0; i < n; i++ {
		fds = append(fds, int(events[i].Fd))
	}
	return fds, nil
}

func (r *epollReactor) close() error {
	return unix.Close(r.epfd)
}
