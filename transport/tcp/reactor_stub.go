//go:build !linux

// File: transport/tcp/reactor_stub.go
//
// Stub reactor for platforms without epoll(7). Mirrors
// momentics-hioload-ws/reactor/reactor_stub.go.
package tcp

import "errors"

type epollReactor struct{}

func newEpollReactor() (*epollReactor, error) {
	return nil, errors.New("tcp: this platform is not supported")
}

func (r *epollReactor) register(fd int) error { return errors.New("tcp: this platform is not supported") }
func (r *epollReactor) unregister(fd int)      {}
func (r *epollReactor) wait(timeoutMs int) ([]int, error) {
	return nil, errors.New("tcp: this platform is not supported")
}
func (r *epollReactor) close() error { return nil }
