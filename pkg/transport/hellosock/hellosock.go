// Package hellosock implements a lightweight handshake-capable socket: peers
// exchange signed ed25519 hellos, then carry application bytes in data frames
// and end the session with a bye frame.
//
// A peer that vanishes without sending bye is reported as ErrTruncated, the
// same way a TLS session closed without close_notify is.
package hellosock

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "time"

    "go.uber.org/zap"

    "ttsock/pkg/codec"
    "ttsock/pkg/handshake"
    "ttsock/pkg/transport"
    "ttsock/pkg/transport/netsock"
)

// Options configure a hello socket.
type Options struct {
    // Identity signs our hello; an ephemeral key is generated when nil.
    Identity ed25519.PrivateKey
    NodeName string
    // Codec encodes hello frames; defaults to canonical CBOR.
    Codec codec.Codec
    // MaxSkew bounds the peer hello timestamp.
    MaxSkew time.Duration
    // ExpectPeer pins the peer's canonical id when non-empty.
    ExpectPeer transport.ID
    // Kind reported by the socket; defaults to KindHello.
    Kind     transport.Kind
    Executor transport.Executor
    // HandshakeTimeout bounds async handshakes.
    HandshakeTimeout time.Duration
}

// Socket is a transport.Socket secured by the hello exchange.
type Socket struct {
    raw  net.Conn
    mon  *netsock.Monitor
    opts Options
    kind transport.Kind
    exec transport.Executor

    mu       sync.Mutex
    peerID   transport.ID
    peerName string

    // read side; guarded by rmu
    rmu    sync.Mutex
    hdr    [headerSize]byte
    hdrN   int
    remain int
    bye    bool

    // write side; guarded by wmu. A data frame interrupted by Cancel stays
    // open: its unsent header bytes and owed payload are completed by the
    // next write before a new frame starts.
    wmu   sync.Mutex
    wHdr  []byte
    wOwed int

    life transport.StateMachine
    sec  transport.SecureMachine
    ops  transport.Ops
}

var (
    _ transport.Socket             = (*Socket)(nil)
    _ transport.Handshaker         = (*Socket)(nil)
    _ transport.BufferedHandshaker = (*Socket)(nil)
)

func New(conn net.Conn, opts Options) (*Socket, error) {
    opts, err := opts.withDefaults()
    if err != nil { return nil, err }
    return newSocket(conn, opts), nil
}

// Wrap resolves opts once and returns a WrapFunc binding conns to hello
// sockets, for use by endpoints.
func Wrap(opts Options) (transport.WrapFunc, error) {
    opts, err := opts.withDefaults()
    if err != nil { return nil, err }
    return func(c net.Conn) transport.Socket { return newSocket(c, opts) }, nil
}

func (o Options) withDefaults() (Options, error) {
    if o.Identity == nil {
        _, priv, err := ed25519.GenerateKey(rand.Reader)
        if err != nil { return o, err }
        o.Identity = priv
    }
    if o.Codec == nil {
        c, err := codec.CBOR()
        if err != nil { return o, err }
        o.Codec = c
    }
    if o.Kind == transport.KindUnknown { o.Kind = transport.KindHello }
    if o.Executor == nil { o.Executor = transport.Goroutines{} }
    return o, nil
}

func newSocket(conn net.Conn, opts Options) *Socket {
    return &Socket{raw: conn, mon: netsock.NewMonitor(conn), opts: opts, kind: opts.Kind, exec: opts.Executor}
}

// Handle binds a new hello socket over conn to a Handle.
func Handle(conn net.Conn, opts Options) (transport.Handle, error) {
    s, err := New(conn, opts)
    if err != nil { return transport.Handle{}, err }
    return transport.NewHandle(s), nil
}

func (s *Socket) Kind() transport.Kind               { return s.kind }
func (s *Socket) IsHandshaked() bool                 { return true }
func (s *Socket) Executor() transport.Executor       { return s.exec }
func (s *Socket) NativeObject() any                  { return s.raw }
func (s *Socket) State() transport.State             { return s.life.State() }
func (s *Socket) SecureState() transport.SecureState { return s.sec.State() }

// LocalID is the canonical id of our identity key.
func (s *Socket) LocalID() transport.ID {
    return transport.CanonicalID(handshake.AlgEd25519, s.opts.Identity.Public().(ed25519.PublicKey))
}

// Peer returns the verified peer id and node name once secured.
func (s *Socket) Peer() (transport.ID, string, bool) {
    s.mu.Lock(); defer s.mu.Unlock()
    return s.peerID, s.peerName, s.peerID != ""
}

// ---- Handshake ----

func (s *Socket) prepare(op string, preload []byte) error {
    if err := s.life.CheckOpen(); err != nil { return transport.WrapOp(op, s.kind, err) }
    if err := s.sec.BeginHandshake(); err != nil { return transport.WrapOp(op, s.kind, err) }
    if len(preload) > 0 { s.mon.Preload(preload) }
    return nil
}

func (s *Socket) finish(op string, role transport.HandshakeRole, err error) error {
    if err != nil && !errors.Is(err, transport.ErrCancelled) {
        err = fmt.Errorf("%w: %v", transport.ErrHandshake, err)
    }
    s.sec.EndHandshake(err)
    if err != nil {
        zap.L().Debug("hello handshake failed", zap.String("role", role.String()), zap.Error(err))
    } else {
        id, name, _ := s.Peer()
        zap.L().Debug("hello handshake complete", zap.String("role", role.String()), zap.String("peer", string(id)), zap.String("name", name))
    }
    return transport.WrapOp(op, s.kind, err)
}

// exchange runs the two-message negotiation. The ctx interrupts it through
// the raw conn deadline.
func (s *Socket) exchange(ctx context.Context, role transport.HandshakeRole) (err error) {
    if err := ctx.Err(); err != nil { return err }
    fired := make(chan struct{})
    stop := context.AfterFunc(ctx, func() {
        _ = s.raw.SetDeadline(time.Unix(1, 0))
        close(fired)
    })
    defer func() {
        if !stop() {
            <-fired
            _ = s.raw.SetDeadline(time.Time{})
            if err != nil { err = ctx.Err() }
        }
    }()

    send := func(h handshake.Hello) error {
        b, err := handshake.EncodeHello(s.opts.Codec, h)
        if err != nil { return err }
        s.wmu.Lock(); defer s.wmu.Unlock()
        _, err = s.mon.Write(appendFrame(nil, frameHello, b))
        return err
    }
    recv := func() (handshake.Hello, error) {
        typ, payload, err := readFrame(s.mon)
        if err != nil { return handshake.Hello{}, err }
        if typ != frameHello { return handshake.Hello{}, fmt.Errorf("%w: expected hello, got type %d", errFrame, typ) }
        return handshake.DecodeHello(s.opts.Codec, payload)
    }
    verify := func(h handshake.Hello, peerRole transport.HandshakeRole, nonce []byte) error {
        id, err := handshake.VerifyHello(h, handshake.VerifyOptions{Role: peerRole, PeerNonce: nonce, MaxSkew: s.opts.MaxSkew, Expect: s.opts.ExpectPeer})
        if err != nil { return err }
        s.mu.Lock(); s.peerID, s.peerName = id, h.NodeName; s.mu.Unlock()
        return nil
    }

    if role == transport.RoleClient {
        ours, _, err := handshake.BuildHello(role, s.opts.NodeName, s.opts.Identity, nil)
        if err != nil { return err }
        if err := send(ours); err != nil { return err }
        theirs, err := recv()
        if err != nil { return err }
        return verify(theirs, transport.RoleServer, ours.Nonce)
    }
    theirs, err := recv()
    if err != nil { return err }
    if err := verify(theirs, transport.RoleClient, nil); err != nil { return err }
    ours, _, err := handshake.BuildHello(role, s.opts.NodeName, s.opts.Identity, theirs.Nonce)
    if err != nil { return err }
    return send(ours)
}

func (s *Socket) Handshake(ctx context.Context, role transport.HandshakeRole) error {
    return s.HandshakeBuffered(ctx, role, nil)
}

func (s *Socket) HandshakeBuffered(ctx context.Context, role transport.HandshakeRole, bufs transport.ConstBuffers) error {
    if err := s.prepare("handshake", bufs.Bytes()); err != nil { return err }
    _, err := s.ops.Run(func() (int, error) { return 0, s.exchange(ctx, role) })
    return s.finish("handshake", role, err)
}

func (s *Socket) AsyncHandshake(role transport.HandshakeRole, cb transport.ErrorFunc) {
    s.AsyncHandshakeBuffered(role, nil, func(_ int, err error) {
        if cb != nil { cb(err) }
    })
}

// AsyncHandshakeBuffered reports how many of the preloaded bytes the
// negotiation consumed; the rest are served to subsequent reads.
func (s *Socket) AsyncHandshakeBuffered(role transport.HandshakeRole, bufs transport.ConstBuffers, cb transport.TransferFunc) {
    preload := bufs.Bytes()
    if err := s.prepare("async_handshake", preload); err != nil { transport.Complete(s.exec, cb, 0, err); return }
    transport.Dispatch(s.exec, &s.ops, func() (int, error) {
        ctx := context.Background()
        if s.opts.HandshakeTimeout > 0 {
            var cancel context.CancelFunc
            ctx, cancel = context.WithTimeout(ctx, s.opts.HandshakeTimeout)
            defer cancel()
        }
        err := s.exchange(ctx, role)
        return len(preload) - s.mon.Pending(), err
    }, func(n int, err error) {
        err = s.finish("async_handshake", role, err)
        if cb != nil { cb(n, err) }
    })
}

// errFrameOpen reports a secure shutdown attempted while an interrupted data
// frame still owes payload; the caller writes the remaining bytes first.
var errFrameOpen = fmt.Errorf("%w: interrupted data frame still owes payload", transport.ErrShutdown)

func (s *Socket) frameOpen() bool {
    s.wmu.Lock(); defer s.wmu.Unlock()
    return s.wOwed > 0 || len(s.wHdr) > 0
}

func (s *Socket) sendBye() error {
    s.wmu.Lock(); defer s.wmu.Unlock()
    if s.wOwed > 0 || len(s.wHdr) > 0 {
        s.sec.AbortSecureShutdown()
        return errFrameOpen
    }
    _, err := s.mon.Write(appendFrame(nil, frameBye, nil))
    return err
}

// SecureShutdown sends bye. Reads continue until the peer's bye. It fails
// without changing state while a cancelled write left a data frame open.
func (s *Socket) SecureShutdown(ctx context.Context) error {
    if err := s.life.CheckOpen(); err != nil { return transport.WrapOp("secure_shutdown", s.kind, err) }
    if s.sec.State() == transport.SecureSecured && s.frameOpen() { return transport.WrapOp("secure_shutdown", s.kind, errFrameOpen) }
    if err := s.sec.BeginSecureShutdown(); err != nil { return transport.WrapOp("secure_shutdown", s.kind, err) }
    if err := ctx.Err(); err != nil {
        s.sec.AbortSecureShutdown()
        return transport.WrapOp("secure_shutdown", s.kind, err)
    }
    _, err := s.ops.Run(func() (int, error) {
        if dl, ok := ctx.Deadline(); ok {
            _ = s.raw.SetWriteDeadline(dl)
            defer func() { _ = s.raw.SetWriteDeadline(time.Time{}) }()
        }
        return 0, s.sendBye()
    })
    return transport.WrapOp("secure_shutdown", s.kind, err)
}

func (s *Socket) AsyncSecureShutdown(cb transport.ErrorFunc) {
    fail := func(err error) {
        transport.Complete(s.exec, func(_ int, err error) {
            if cb != nil { cb(err) }
        }, 0, transport.WrapOp("async_secure_shutdown", s.kind, err))
    }
    if err := s.life.CheckOpen(); err != nil { fail(err); return }
    if s.sec.State() == transport.SecureSecured && s.frameOpen() { fail(errFrameOpen); return }
    if err := s.sec.BeginSecureShutdown(); err != nil { fail(err); return }
    transport.DispatchErr(s.exec, &s.ops, s.sendBye, func(err error) {
        if cb != nil { cb(transport.WrapOp("async_secure_shutdown", s.kind, err)) }
    })
}

// ---- Stream ----

func (s *Socket) checkRead() error {
    if err := s.life.CheckRead(); err != nil { return err }
    return s.sec.CheckRead()
}

func (s *Socket) checkWrite() error {
    if err := s.life.CheckWrite(); err != nil { return err }
    return s.sec.CheckWrite()
}

// read delivers payload bytes of data frames. Frame parsing state survives an
// interrupted read so a cancelled read can be retried.
func (s *Socket) read(bufs transport.MutableBuffers) (int, error) {
    s.rmu.Lock(); defer s.rmu.Unlock()
    for {
        if s.bye { return 0, io.EOF }
        if s.remain > 0 {
            n, err := transport.ReadSomeFrom(io.LimitReader(s.mon, int64(s.remain)), bufs)
            s.remain -= n
            if n > 0 { return n, nil }
            if err == io.EOF { return 0, transport.ErrTruncated }
            return 0, err
        }
        for s.hdrN < headerSize {
            n, err := s.mon.Read(s.hdr[s.hdrN:])
            s.hdrN += n
            if s.hdrN == headerSize { break }
            if err == io.EOF { return 0, transport.ErrTruncated }
            if err != nil { return 0, err }
        }
        s.hdrN = 0
        size := binary.LittleEndian.Uint32(s.hdr[1:])
        switch s.hdr[0] {
        case frameData:
            if size > maxInbound { return 0, fmt.Errorf("%w: frame of %d bytes", errFrame, size) }
            s.remain = int(size)
        case frameBye:
            s.bye = true
        default:
            return 0, fmt.Errorf("%w: unexpected type %d", errFrame, s.hdr[0])
        }
    }
}

// write sends up to MaxPayload bytes as one data frame, or continues the
// frame a cancelled write left open. Only payload bytes that reached the conn
// are reported.
func (s *Socket) write(bufs transport.ConstBuffers) (int, error) {
    s.wmu.Lock(); defer s.wmu.Unlock()
    if s.wOwed == 0 && len(s.wHdr) == 0 {
        n := min(bufs.Len(), MaxPayload)
        s.wHdr = make([]byte, headerSize)
        s.wHdr[0] = frameData
        binary.LittleEndian.PutUint32(s.wHdr[1:], uint32(n))
        s.wOwed = n
    }
    take := min(bufs.Len(), s.wOwed)
    hn := len(s.wHdr)
    out := make([]byte, 0, hn+take)
    out = append(out, s.wHdr...)
    for _, b := range bufs {
        if len(out) == hn+take { break }
        room := hn + take - len(out)
        if len(b) > room { b = b[:room] }
        out = append(out, b...)
    }
    w, err := s.mon.Write(out)
    if w < hn {
        s.wHdr = s.wHdr[w:]
        return 0, err
    }
    s.wHdr = nil
    sent := w - hn
    s.wOwed -= sent
    if sent > 0 { return sent, nil }
    return 0, err
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

// Shutdown acts on the raw transport; it never sends bye.
func (s *Socket) Shutdown(dir transport.ShutdownDirection) error {
    return transport.WrapOp("shutdown", s.kind, s.life.Shutdown(dir, func(d transport.ShutdownDirection) error {
        return netsock.ShutdownConn(s.raw, d)
    }))
}

// Close closes the raw conn without bye; a secured peer reads ErrTruncated.
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

// Outstanding returns the number of in-flight operations.
func (s *Socket) Outstanding() int { return s.ops.Len() }
