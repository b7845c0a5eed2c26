// Package netsock implements the plain (non-handshaked) socket over any
// net.Conn: TCP connections, in-memory pipes, named pipes and QUIC streams.
package netsock

import (
    "net"
    "time"

    "ttsock/pkg/transport"
)

// Options configure a plain socket.
type Options struct {
    // Kind reported by the socket; defaults to KindTCP.
    Kind transport.Kind
    // Executor delivering async completions; defaults to transport.Goroutines.
    Executor transport.Executor
    // Native overrides the object returned by NativeObject (defaults to the conn).
    Native any
}

// Socket is a transport.Socket over a net.Conn. Cancellation uses
// connection deadlines, so the conn must honour SetDeadline.
type Socket struct {
    conn   net.Conn
    kind   transport.Kind
    exec   transport.Executor
    native any

    life transport.StateMachine
    ops  transport.Ops
}

var _ transport.Socket = (*Socket)(nil)

func New(conn net.Conn, opts Options) *Socket {
    s := &Socket{conn: conn, kind: opts.Kind, exec: opts.Executor, native: opts.Native}
    if s.kind == transport.KindUnknown { s.kind = transport.KindTCP }
    if s.exec == nil { s.exec = transport.Goroutines{} }
    if s.native == nil { s.native = conn }
    return s
}

// Handle binds a new plain socket over conn to a Handle.
func Handle(conn net.Conn, opts Options) transport.Handle { return transport.NewHandle(New(conn, opts)) }

func (s *Socket) Kind() transport.Kind           { return s.kind }
func (s *Socket) IsHandshaked() bool             { return false }
func (s *Socket) NativeObject() any              { return s.native }
func (s *Socket) Executor() transport.Executor   { return s.exec }
func (s *Socket) Conn() net.Conn                 { return s.conn }
func (s *Socket) State() transport.State         { return s.life.State() }
func (s *Socket) Outstanding() int               { return s.ops.Len() }
func (s *Socket) LocalAddr() net.Addr            { return s.conn.LocalAddr() }
func (s *Socket) RemoteAddr() net.Addr           { return s.conn.RemoteAddr() }

func (s *Socket) ReadSome(bufs transport.MutableBuffers) (int, error) {
    if err := s.life.CheckRead(); err != nil { return 0, transport.WrapOp("read_some", s.kind, err) }
    if bufs.Len() == 0 { return 0, nil }
    n, err := s.ops.Run(func() (int, error) { return transport.ReadSomeFrom(s.conn, bufs) })
    return n, transport.WrapOp("read_some", s.kind, err)
}

func (s *Socket) WriteSome(bufs transport.ConstBuffers) (int, error) {
    if err := s.life.CheckWrite(); err != nil { return 0, transport.WrapOp("write_some", s.kind, err) }
    if bufs.Len() == 0 { return 0, nil }
    n, err := s.ops.Run(func() (int, error) { return transport.WriteSomeTo(s.conn, bufs) })
    return n, transport.WrapOp("write_some", s.kind, err)
}

func (s *Socket) AsyncReadSome(bufs transport.MutableBuffers, cb transport.TransferFunc) {
    if err := s.life.CheckRead(); err != nil {
        transport.Complete(s.exec, cb, 0, transport.WrapOp("async_read_some", s.kind, err))
        return
    }
    if bufs.Len() == 0 { transport.Complete(s.exec, cb, 0, nil); return }
    transport.Dispatch(s.exec, &s.ops, func() (int, error) {
        return transport.ReadSomeFrom(s.conn, bufs)
    }, s.wrapCallback("async_read_some", cb))
}

func (s *Socket) AsyncWriteSome(bufs transport.ConstBuffers, cb transport.TransferFunc) {
    if err := s.life.CheckWrite(); err != nil {
        transport.Complete(s.exec, cb, 0, transport.WrapOp("async_write_some", s.kind, err))
        return
    }
    if bufs.Len() == 0 { transport.Complete(s.exec, cb, 0, nil); return }
    transport.Dispatch(s.exec, &s.ops, func() (int, error) {
        return transport.WriteSomeTo(s.conn, bufs)
    }, s.wrapCallback("async_write_some", cb))
}

func (s *Socket) wrapCallback(op string, cb transport.TransferFunc) transport.TransferFunc {
    return func(n int, err error) {
        if cb != nil { cb(n, transport.WrapOp(op, s.kind, err)) }
    }
}

// Cancel interrupts outstanding operations by expiring the conn deadlines and
// restores them once every interrupted operation has unwound.
func (s *Socket) Cancel() error {
    if s.life.State() == transport.StateClosed { return nil }
    s.ops.Interrupt(
        func() { _ = s.conn.SetDeadline(time.Unix(1, 0)) },
        func() { _ = s.conn.SetDeadline(time.Time{}) },
    )
    return nil
}

func (s *Socket) Shutdown(dir transport.ShutdownDirection) error {
    return transport.WrapOp("shutdown", s.kind, s.life.Shutdown(dir, func(d transport.ShutdownDirection) error {
        return ShutdownConn(s.conn, d)
    }))
}

// Close cancels outstanding operations, closes the conn and waits for the
// interrupted operations to unwind. Closing again is a no-op.
func (s *Socket) Close() error {
    if !s.life.Close() { return nil }
    var err error
    closed := false
    closeConn := func() { closed = true; err = s.conn.Close() }
    s.ops.Interrupt(closeConn, nil)
    if !closed { closeConn() }
    return transport.WrapOp("close", s.kind, err)
}

// ShutdownConn performs a transport-level half or full close on conn. A
// receive shutdown on a conn without CloseRead only takes effect locally; a
// send shutdown requires CloseWrite.
func ShutdownConn(conn net.Conn, dir transport.ShutdownDirection) error {
    cr, canRead := conn.(interface{ CloseRead() error })
    cw, canWrite := conn.(interface{ CloseWrite() error })
    if (dir == transport.ShutdownSend || dir == transport.ShutdownBoth) && !canWrite {
        return transport.ErrUnsupported
    }
    if (dir == transport.ShutdownReceive || dir == transport.ShutdownBoth) && canRead {
        if err := cr.CloseRead(); err != nil { return err }
    }
    if dir == transport.ShutdownSend || dir == transport.ShutdownBoth {
        return cw.CloseWrite()
    }
    return nil
}
