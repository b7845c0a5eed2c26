// Package null provides a socket with no peer: reads report end-of-stream and
// writes are discarded. It stands in where a Handle is required but nothing
// should flow, e.g. a disabled upstream.
package null

import (
    "context"
    "sync/atomic"

    "ttsock/pkg/transport"
)

type Socket struct {
    exec    transport.Executor
    life    transport.StateMachine
    written atomic.Int64
}

var _ transport.Socket = (*Socket)(nil)

// New returns a null socket delivering async completions through exec
// (transport.Goroutines when nil).
func New(exec transport.Executor) *Socket {
    if exec == nil { exec = transport.Goroutines{} }
    return &Socket{exec: exec}
}

// Handle returns a Handle bound to a new null socket.
func Handle(exec transport.Executor) transport.Handle { return transport.NewHandle(New(exec)) }

func (s *Socket) Kind() transport.Kind         { return transport.KindNull }
func (s *Socket) IsHandshaked() bool           { return false }
func (s *Socket) NativeObject() any            { return s }
func (s *Socket) Executor() transport.Executor { return s.exec }

// Discarded returns how many bytes writes have swallowed.
func (s *Socket) Discarded() int64 { return s.written.Load() }

func (s *Socket) ReadSome(bufs transport.MutableBuffers) (int, error) {
    if err := s.life.CheckRead(); err != nil { return 0, transport.WrapOp("read_some", transport.KindNull, err) }
    if bufs.Len() == 0 { return 0, nil }
    return 0, transport.ErrEndOfStream
}

func (s *Socket) WriteSome(bufs transport.ConstBuffers) (int, error) {
    if err := s.life.CheckWrite(); err != nil { return 0, transport.WrapOp("write_some", transport.KindNull, err) }
    n := bufs.Len()
    s.written.Add(int64(n))
    return n, nil
}

func (s *Socket) AsyncReadSome(bufs transport.MutableBuffers, cb transport.TransferFunc) {
    n, err := s.ReadSome(bufs)
    transport.Complete(s.exec, cb, n, err)
}

func (s *Socket) AsyncWriteSome(bufs transport.ConstBuffers, cb transport.TransferFunc) {
    n, err := s.WriteSome(bufs)
    transport.Complete(s.exec, cb, n, err)
}

// Cancel has nothing to interrupt; every operation completes immediately.
func (s *Socket) Cancel() error { return nil }

func (s *Socket) Shutdown(dir transport.ShutdownDirection) error {
    return transport.WrapOp("shutdown", transport.KindNull, s.life.Shutdown(dir, func(transport.ShutdownDirection) error { return nil }))
}

func (s *Socket) Close() error {
    s.life.Close()
    return nil
}

// Transport dials null sockets. It has no listening side.
type Transport struct {
    exec transport.Executor
}

func NewTransport(exec transport.Executor) *Transport { return &Transport{exec: exec} }

func (t *Transport) Kind() transport.Kind { return transport.KindNull }

func (t *Transport) Listen(context.Context, string) (transport.Listener, error) {
    return nil, transport.WrapOp("listen", transport.KindNull, transport.ErrUnsupported)
}

func (t *Transport) Dial(ctx context.Context, _ string) (transport.Handle, error) {
    if err := ctx.Err(); err != nil { return transport.Handle{}, err }
    return Handle(t.exec), nil
}
