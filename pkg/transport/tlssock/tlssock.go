// Package tlssock implements the handshake-capable socket: TLS over any
// net.Conn, negotiated and terminated explicitly through the Handle.
package tlssock

import (
    "context"
    "crypto/ed25519"
    "crypto/tls"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/netsock"
)

// Options configure a TLS socket.
type Options struct {
    // Config is used for whichever role the handshake selects. Server roles
    // need Certificates; client roles need ServerName or InsecureSkipVerify.
    Config *tls.Config
    // Kind reported by the socket; defaults to KindTLS.
    Kind transport.Kind
    // Executor delivering async completions; defaults to transport.Goroutines.
    Executor transport.Executor
    // HandshakeTimeout bounds async handshakes (sync ones use the ctx).
    HandshakeTimeout time.Duration
}

// Socket is a transport.Socket with a TLS security layer. The tls.Conn is
// created by Handshake because the role is chosen there.
type Socket struct {
    raw  net.Conn
    mon  *netsock.Monitor
    cfg  *tls.Config
    kind transport.Kind
    exec transport.Executor
    hsTimeout time.Duration

    mu sync.Mutex
    tc *tls.Conn

    life transport.StateMachine
    sec  transport.SecureMachine
    ops  transport.Ops

    // crypto/tls keeps a write error for good, so once Cancel interrupts a
    // write the session can no longer send.
    wbroken atomic.Bool
}

// ErrWriteBroken is returned by writes and SecureShutdown after Cancel or a
// deadline interrupted a TLS write. Reads keep working.
var ErrWriteBroken = fmt.Errorf("%w: write side unusable after cancelled write", transport.ErrShutdown)

var (
    _ transport.Socket             = (*Socket)(nil)
    _ transport.Handshaker         = (*Socket)(nil)
    _ transport.BufferedHandshaker = (*Socket)(nil)
)

func New(conn net.Conn, opts Options) *Socket {
    s := &Socket{raw: conn, mon: netsock.NewMonitor(conn), cfg: opts.Config, kind: opts.Kind, exec: opts.Executor, hsTimeout: opts.HandshakeTimeout}
    if s.cfg == nil { s.cfg = &tls.Config{MinVersion: tls.VersionTLS12} }
    if s.kind == transport.KindUnknown { s.kind = transport.KindTLS }
    if s.exec == nil { s.exec = transport.Goroutines{} }
    return s
}

// Handle binds a new TLS socket over conn to a Handle.
func Handle(conn net.Conn, opts Options) transport.Handle { return transport.NewHandle(New(conn, opts)) }

func (s *Socket) Kind() transport.Kind         { return s.kind }
func (s *Socket) IsHandshaked() bool           { return true }
func (s *Socket) Executor() transport.Executor { return s.exec }
func (s *Socket) State() transport.State       { return s.life.State() }
func (s *Socket) SecureState() transport.SecureState { return s.sec.State() }
func (s *Socket) Raw() net.Conn                { return s.raw }

// NativeObject returns the *tls.Conn once a handshake has started and the raw
// conn before that.
func (s *Socket) NativeObject() any {
    if tc := s.tlsConn(); tc != nil { return tc }
    return s.raw
}

func (s *Socket) tlsConn() *tls.Conn {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.tc
}

// ConnectionState returns the negotiated TLS state once secured.
func (s *Socket) ConnectionState() (tls.ConnectionState, bool) {
    tc := s.tlsConn()
    if tc == nil || s.sec.State() == transport.SecureUnsecured { return tls.ConnectionState{}, false }
    return tc.ConnectionState(), true
}

// PeerID derives the canonical id of an ed25519 peer certificate.
func (s *Socket) PeerID() (transport.ID, bool) {
    cs, ok := s.ConnectionState()
    if !ok || len(cs.PeerCertificates) == 0 { return "", false }
    pub, ok := cs.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
    if !ok { return "", false }
    return transport.CanonicalID("ed25519", pub), true
}

// ---- Handshake ----

func (s *Socket) prepare(op string, role transport.HandshakeRole, preload []byte) (*tls.Conn, error) {
    if err := s.life.CheckOpen(); err != nil { return nil, transport.WrapOp(op, s.kind, err) }
    if err := s.sec.BeginHandshake(); err != nil { return nil, transport.WrapOp(op, s.kind, err) }
    if len(preload) > 0 { s.mon.Preload(preload) }
    var tc *tls.Conn
    if role == transport.RoleServer {
        tc = tls.Server(s.mon, s.cfg)
    } else {
        tc = tls.Client(s.mon, s.cfg)
    }
    s.mu.Lock(); s.tc = tc; s.mu.Unlock()
    return tc, nil
}

func (s *Socket) finish(op string, role transport.HandshakeRole, err error) error {
    if err != nil && !errors.Is(err, transport.ErrCancelled) {
        err = fmt.Errorf("%w: %v", transport.ErrHandshake, err)
    }
    s.sec.EndHandshake(err)
    if err != nil {
        zap.L().Debug("tls handshake failed", zap.String("role", role.String()), zap.Error(err))
    }
    return transport.WrapOp(op, s.kind, err)
}

func (s *Socket) Handshake(ctx context.Context, role transport.HandshakeRole) error {
    return s.HandshakeBuffered(ctx, role, nil)
}

func (s *Socket) HandshakeBuffered(ctx context.Context, role transport.HandshakeRole, bufs transport.ConstBuffers) error {
    tc, err := s.prepare("handshake", role, bufs.Bytes())
    if err != nil { return err }
    _, err = s.ops.Run(func() (int, error) { return 0, tc.HandshakeContext(ctx) })
    return s.finish("handshake", role, err)
}

func (s *Socket) AsyncHandshake(role transport.HandshakeRole, cb transport.ErrorFunc) {
    s.AsyncHandshakeBuffered(role, nil, func(_ int, err error) {
        if cb != nil { cb(err) }
    })
}

// AsyncHandshakeBuffered reports how many of the preloaded bytes the
// negotiation consumed.
func (s *Socket) AsyncHandshakeBuffered(role transport.HandshakeRole, bufs transport.ConstBuffers, cb transport.TransferFunc) {
    preload := bufs.Bytes()
    tc, err := s.prepare("async_handshake", role, preload)
    if err != nil { transport.Complete(s.exec, cb, 0, err); return }
    transport.Dispatch(s.exec, &s.ops, func() (int, error) {
        ctx := context.Background()
        if s.hsTimeout > 0 {
            var cancel context.CancelFunc
            ctx, cancel = context.WithTimeout(ctx, s.hsTimeout)
            defer cancel()
        }
        err := tc.HandshakeContext(ctx)
        return len(preload) - s.mon.Pending(), err
    }, func(n int, err error) {
        err = s.finish("async_handshake", role, err)
        if cb != nil { cb(n, err) }
    })
}

// SecureShutdown sends close_notify. The transport stays open and reads may
// continue until the peer's own close_notify or end-of-stream.
func (s *Socket) SecureShutdown(ctx context.Context) error {
    if err := s.life.CheckOpen(); err != nil { return transport.WrapOp("secure_shutdown", s.kind, err) }
    if s.wbroken.Load() { return transport.WrapOp("secure_shutdown", s.kind, ErrWriteBroken) }
    if err := s.sec.BeginSecureShutdown(); err != nil { return transport.WrapOp("secure_shutdown", s.kind, err) }
    if err := ctx.Err(); err != nil {
        s.sec.AbortSecureShutdown()
        return transport.WrapOp("secure_shutdown", s.kind, err)
    }
    tc := s.tlsConn()
    _, err := s.ops.Run(func() (int, error) {
        if dl, ok := ctx.Deadline(); ok {
            _ = s.raw.SetWriteDeadline(dl)
            defer func() { _ = s.raw.SetWriteDeadline(time.Time{}) }()
        }
        return 0, tc.CloseWrite()
    })
    return transport.WrapOp("secure_shutdown", s.kind, err)
}

func (s *Socket) AsyncSecureShutdown(cb transport.ErrorFunc) {
    if err := s.life.CheckOpen(); err != nil {
        transport.Complete(s.exec, errCallback(cb), 0, transport.WrapOp("async_secure_shutdown", s.kind, err))
        return
    }
    if s.wbroken.Load() {
        transport.Complete(s.exec, errCallback(cb), 0, transport.WrapOp("async_secure_shutdown", s.kind, ErrWriteBroken))
        return
    }
    if err := s.sec.BeginSecureShutdown(); err != nil {
        transport.Complete(s.exec, errCallback(cb), 0, transport.WrapOp("async_secure_shutdown", s.kind, err))
        return
    }
    tc := s.tlsConn()
    transport.DispatchErr(s.exec, &s.ops, tc.CloseWrite, func(err error) {
        if cb != nil { cb(transport.WrapOp("async_secure_shutdown", s.kind, err)) }
    })
}

func errCallback(cb transport.ErrorFunc) transport.TransferFunc {
    return func(_ int, err error) {
        if cb != nil { cb(err) }
    }
}

// ---- Stream ----

func (s *Socket) checkRead() error {
    if err := s.life.CheckRead(); err != nil { return err }
    return s.sec.CheckRead()
}

func (s *Socket) checkWrite() error {
    if err := s.life.CheckWrite(); err != nil { return err }
    if err := s.sec.CheckWrite(); err != nil { return err }
    if s.wbroken.Load() { return ErrWriteBroken }
    return nil
}

// write gathers bufs into the tls.Conn. A partial write still reports
// success; a timeout marks the write side broken either way.
func (s *Socket) write(bufs transport.ConstBuffers) (int, error) {
    nb := make(net.Buffers, 0, len(bufs))
    for _, p := range bufs {
        if len(p) > 0 { nb = append(nb, p) }
    }
    n, err := nb.WriteTo(s.tlsConn())
    if err != nil && transport.IsTimeout(err) { s.wbroken.Store(true) }
    if n > 0 { return int(n), nil }
    return 0, err
}

// read maps a raw end-of-stream without close_notify to ErrTruncated.
func (s *Socket) read(bufs transport.MutableBuffers) (int, error) {
    n, err := transport.ReadSomeFrom(s.tlsConn(), bufs)
    if err == io.EOF && s.mon.SawEOF() { return n, transport.ErrTruncated }
    return n, err
}

func (s *Socket) ReadSome(bufs transport.MutableBuffers) (int, error) {
    if err := s.checkRead(); err != nil { return 0, transport.WrapOp("read_some", s.kind, err) }
    if bufs.Len() == 0 { return 0, nil }
    n, err := s.ops.Run(func() (int, error) { return s.read(bufs) })
    return n, transport.WrapOp("read_some", s.kind, err)
}

func (s *Socket) WriteSome(bufs transport.ConstBuffers) (int, error) {
    if err := s.checkWrite(); err != nil { return 0, transport.WrapOp("write_some", s.kind, err) }
    if bufs.Len() == 0 { return 0, nil }
    n, err := s.ops.Run(func() (int, error) { return s.write(bufs) })
    return n, transport.WrapOp("write_some", s.kind, err)
}

func (s *Socket) AsyncReadSome(bufs transport.MutableBuffers, cb transport.TransferFunc) {
    if err := s.checkRead(); err != nil {
        transport.Complete(s.exec, cb, 0, transport.WrapOp("async_read_some", s.kind, err))
        return
    }
    if bufs.Len() == 0 { transport.Complete(s.exec, cb, 0, nil); return }
    transport.Dispatch(s.exec, &s.ops, func() (int, error) { return s.read(bufs) }, func(n int, err error) {
        if cb != nil { cb(n, transport.WrapOp("async_read_some", s.kind, err)) }
    })
}

func (s *Socket) AsyncWriteSome(bufs transport.ConstBuffers, cb transport.TransferFunc) {
    if err := s.checkWrite(); err != nil {
        transport.Complete(s.exec, cb, 0, transport.WrapOp("async_write_some", s.kind, err))
        return
    }
    if bufs.Len() == 0 { transport.Complete(s.exec, cb, 0, nil); return }
    transport.Dispatch(s.exec, &s.ops, func() (int, error) { return s.write(bufs) }, func(n int, err error) {
        if cb != nil { cb(n, transport.WrapOp("async_write_some", s.kind, err)) }
    })
}

// ---- Lifecycle ----

func (s *Socket) Cancel() error {
    if s.life.State() == transport.StateClosed { return nil }
    s.ops.Interrupt(
        func() { _ = s.raw.SetDeadline(time.Unix(1, 0)) },
        func() { _ = s.raw.SetDeadline(time.Time{}) },
    )
    return nil
}

// Shutdown acts on the raw transport; it never sends close_notify.
func (s *Socket) Shutdown(dir transport.ShutdownDirection) error {
    return transport.WrapOp("shutdown", s.kind, s.life.Shutdown(dir, func(d transport.ShutdownDirection) error {
        return netsock.ShutdownConn(s.raw, d)
    }))
}

// Close closes the raw conn. A secured session that was not shut down is
// terminated ungracefully: the peer reads ErrTruncated, not end-of-stream.
func (s *Socket) Close() error {
    if !s.life.Close() { return nil }
    if s.sec.State() == transport.SecureSecured {
        zap.L().Warn("closing secured transport without secure shutdown", zap.String("kind", s.kind.String()))
    }
    var err error
    closed := false
    closeConn := func() { closed = true; err = s.raw.Close() }
    s.ops.Interrupt(closeConn, nil)
    if !closed { closeConn() }
    return transport.WrapOp("close", s.kind, err)
}
