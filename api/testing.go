// File: api/testing.go
// Grounded on momentics-hioload-ws/api/testing.go.
package api

import "context"

// MockTransport is a test-friendly Transport implementation whose behavior
// is entirely driven by the function fields, letting tests stub exactly the
// calls the engine is expected to make.
type MockTransport struct {
	InitFunc          func(ctx context.Context) error
	ExitFunc          func() error
	ListenFunc        func(cport uint16) error
	StopListeningFunc func(cport uint16) error
	SendFunc          func(cport uint16, frame []byte) error
	SendAsyncFunc     func(cport uint16, frame []byte, done SendAsyncCallback, user any) error
	AllocBufFunc      func(size int) []byte
	FreeBufFunc       func(buf []byte)
	RxBufFreeFunc     func(cport uint16, buf []byte)
}

func (m *MockTransport) Init(ctx context.Context) error {
	if m.InitFunc == nil {
		return nil
	}
	return m.InitFunc(ctx)
}

func (m *MockTransport) Exit() error {
	if m.ExitFunc == nil {
		return nil
	}
	return m.ExitFunc()
}

func (m *MockTransport) Listen(cport uint16) error {
	if m.ListenFunc == nil {
		return nil
	}
	return m.ListenFunc(cport)
}

func (m *MockTransport) StopListening(cport uint16) error {
	if m.StopListeningFunc == nil {
		return nil
	}
	return m.StopListeningFunc(cport)
}

func (m *MockTransport) Send(cport uint16, frame []byte) error {
	if m.SendFunc == nil {
		return nil
	}
	return m.SendFunc(cport, frame)
}

func (m *MockTransport) SendAsync(cport uint16, frame []byte, done SendAsyncCallback, user any) error {
	if m.SendAsyncFunc == nil {
		return ErrNotSupported
	}
	return m.SendAsyncFunc(cport, frame, done, user)
}

func (m *MockTransport) AllocBuf(size int) []byte {
	if m.AllocBufFunc == nil {
		return make([]byte, size)
	}
	return m.AllocBufFunc(size)
}

func (m *MockTransport) FreeBuf(buf []byte) {
	if m.FreeBufFunc != nil {
		m.FreeBufFunc(buf)
	}
}

func (m *MockTransport) RxBufFree(cport uint16, buf []byte) {
	if m.RxBufFreeFunc != nil {
		m.RxBufFreeFunc(cport, buf)
	}
}

var _ Transport = (*MockTransport)(nil)
