package transport

import (
    "context"
    "io"

    "go.uber.org/zap"
)

// Handle is the polymorphic entry point. It is a small value with reference
// semantics: copies forward to the same Socket. A Handle does not own the
// socket's lifetime beyond forwarding Close.
type Handle struct {
    s Socket
}

// NewHandle binds a handle to s. A handle is never unbound, so a nil socket
// panics here instead of on first use.
func NewHandle(s Socket) Handle {
    if s == nil { panic("transport: NewHandle with nil Socket") }
    return Handle{s: s}
}

// Socket returns the bound implementation.
func (h Handle) Socket() Socket { return h.s }

func (h Handle) Kind() Kind { return h.s.Kind() }

// IsHandshaked reports whether Handshake and SecureShutdown must be used
// around the life of this connection.
func (h Handle) IsHandshaked() bool { return h.s.IsHandshaked() }

// CanHandshakeBuffered reports whether the buffered handshake forms are available.
func (h Handle) CanHandshakeBuffered() bool {
    if !h.s.IsHandshaked() { return false }
    _, ok := h.s.(BufferedHandshaker)
    return ok
}

// NativeObjectRaw returns the underlying object without a type check.
func (h Handle) NativeObjectRaw() any { return h.s.NativeObject() }

// NativeObject returns the concrete object behind h when it is a T.
func NativeObject[T any](h Handle) (T, bool) {
    var zero T
    if h.s == nil { return zero, false }
    obj := h.s.NativeObject()
    if obj == nil { return zero, false }
    t, ok := obj.(T)
    if !ok { return zero, false }
    return t, true
}

// ---- Lifecycle ----

func (h Handle) Cancel() error { return h.s.Cancel() }

func (h Handle) MustCancel() { must(h.Cancel()) }

func (h Handle) Shutdown(dir ShutdownDirection) error { return h.s.Shutdown(dir) }

func (h Handle) MustShutdown(dir ShutdownDirection) { must(h.Shutdown(dir)) }

func (h Handle) Close() error { return h.s.Close() }

func (h Handle) MustClose() { must(h.Close()) }

// ---- Stream ----

func (h Handle) ReadSome(bufs MutableBuffers) (int, error) { return h.s.ReadSome(bufs) }

func (h Handle) MustReadSome(bufs MutableBuffers) int {
    n, err := h.ReadSome(bufs)
    must(err)
    return n
}

func (h Handle) WriteSome(bufs ConstBuffers) (int, error) { return h.s.WriteSome(bufs) }

func (h Handle) MustWriteSome(bufs ConstBuffers) int {
    n, err := h.WriteSome(bufs)
    must(err)
    return n
}

func (h Handle) AsyncReadSome(bufs MutableBuffers, cb TransferFunc) { h.s.AsyncReadSome(bufs, cb) }

func (h Handle) AsyncWriteSome(bufs ConstBuffers, cb TransferFunc) { h.s.AsyncWriteSome(bufs, cb) }

// ---- Handshake ----

func (h Handle) handshaker(op string) (Handshaker, error) {
    if hs, ok := h.s.(Handshaker); ok && h.s.IsHandshaked() { return hs, nil }
    zap.L().Error("unsupported transport operation", zap.String("op", op), zap.String("kind", h.s.Kind().String()))
    return nil, &OpError{Op: op, Kind: h.s.Kind(), Err: ErrUnsupported}
}

func (h Handle) bufferedHandshaker(op string) (BufferedHandshaker, error) {
    if _, err := h.handshaker(op); err != nil { return nil, err }
    if bh, ok := h.s.(BufferedHandshaker); ok { return bh, nil }
    zap.L().Error("unsupported transport operation", zap.String("op", op), zap.String("kind", h.s.Kind().String()))
    return nil, &OpError{Op: op, Kind: h.s.Kind(), Err: ErrUnsupported}
}

// Handshake negotiates the security layer in the given role.
func (h Handle) Handshake(ctx context.Context, role HandshakeRole) error {
    hs, err := h.handshaker("handshake")
    if err != nil { return err }
    return hs.Handshake(ctx, role)
}

func (h Handle) MustHandshake(ctx context.Context, role HandshakeRole) { must(h.Handshake(ctx, role)) }

// HandshakeBuffered negotiates with bufs (bytes already read from the
// transport) consumed before anything else.
func (h Handle) HandshakeBuffered(ctx context.Context, role HandshakeRole, bufs ConstBuffers) error {
    bh, err := h.bufferedHandshaker("handshake")
    if err != nil { return err }
    return bh.HandshakeBuffered(ctx, role, bufs)
}

func (h Handle) MustHandshakeBuffered(ctx context.Context, role HandshakeRole, bufs ConstBuffers) {
    must(h.HandshakeBuffered(ctx, role, bufs))
}

func (h Handle) AsyncHandshake(role HandshakeRole, cb ErrorFunc) {
    hs, err := h.handshaker("async_handshake")
    if err != nil { h.failErr(cb, err); return }
    hs.AsyncHandshake(role, cb)
}

// AsyncHandshakeBuffered reports through cb how many of the preloaded bytes
// the negotiation consumed.
func (h Handle) AsyncHandshakeBuffered(role HandshakeRole, bufs ConstBuffers, cb TransferFunc) {
    bh, err := h.bufferedHandshaker("async_handshake")
    if err != nil { Complete(h.s.Executor(), cb, 0, err); return }
    bh.AsyncHandshakeBuffered(role, bufs, cb)
}

// SecureShutdown terminates the secure session. The transport stays open;
// Shutdown and Close must still be called.
func (h Handle) SecureShutdown(ctx context.Context) error {
    hs, err := h.handshaker("secure_shutdown")
    if err != nil { return err }
    return hs.SecureShutdown(ctx)
}

func (h Handle) MustSecureShutdown(ctx context.Context) { must(h.SecureShutdown(ctx)) }

func (h Handle) AsyncSecureShutdown(cb ErrorFunc) {
    hs, err := h.handshaker("async_secure_shutdown")
    if err != nil { h.failErr(cb, err); return }
    hs.AsyncSecureShutdown(cb)
}

func (h Handle) failErr(cb ErrorFunc, err error) {
    Complete(h.s.Executor(), func(_ int, err error) {
        if cb != nil { cb(err) }
    }, 0, err)
}

// ---- Composed operations ----

// ReadFull loops ReadSome until p is full. End-of-stream after a partial
// fill is io.ErrUnexpectedEOF.
func ReadFull(h Handle, p []byte) (int, error) {
    n := 0
    for n < len(p) {
        m, err := h.ReadSome(MutableBuffers{p[n:]})
        n += m
        if err != nil {
            if err == io.EOF && n > 0 { err = io.ErrUnexpectedEOF }
            return n, err
        }
    }
    return n, nil
}

// WriteAll loops WriteSome until p is written.
func WriteAll(h Handle, p []byte) (int, error) {
    n := 0
    for n < len(p) {
        m, err := h.WriteSome(ConstBuffers{p[n:]})
        n += m
        if err != nil { return n, err }
    }
    return n, nil
}

// Conn adapts a handle to io.ReadWriteCloser.
func Conn(h Handle) io.ReadWriteCloser { return handleConn{h} }

type handleConn struct{ h Handle }

func (c handleConn) Read(p []byte) (int, error)  { return c.h.ReadSome(MutableBuffers{p}) }
func (c handleConn) Write(p []byte) (int, error) { return WriteAll(c.h, p) }
func (c handleConn) Close() error                { return c.h.Close() }

func must(err error) {
    if err != nil { panic(err) }
}
