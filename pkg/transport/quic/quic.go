// Package quic provides QUIC endpoints. Each handle carries one bidirectional
// QUIC stream on its own connection; the stream is adapted to net.Conn and
// bound to a plain socket, since QUIC already secures the connection.
package quic

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"
    "go.uber.org/zap"

    "ttsock/pkg/identity"
    "ttsock/pkg/transport"
    "ttsock/pkg/transport/netsock"
)

// ALPN is negotiated when the TLS config names no protocols.
const ALPN = "ttsock"

// streamOpen is written by the dialer so the listener's AcceptStream returns
// before any application byte is sent.
const streamOpen byte = 0x01

type Options struct {
    // TLS is used by both sides; an ephemeral self-signed config is
    // generated when nil (and clients then skip verification).
    TLS      *tls.Config
    Config   *quicgo.Config
    Executor transport.Executor
    Backlog  int
}

type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
    exec     transport.Executor
    backlog  int
}

func New(opts Options) (*Transport, error) {
    tc := opts.TLS
    if tc == nil {
        _, priv, err := ed25519.GenerateKey(rand.Reader)
        if err != nil { return nil, err }
        cert, err := identity.SelfSignedCert(priv)
        if err != nil { return nil, err }
        tc = &tls.Config{Certificates: []tls.Certificate{cert}, InsecureSkipVerify: true}
    } else {
        tc = tc.Clone()
    }
    if len(tc.NextProtos) == 0 { tc.NextProtos = []string{ALPN} }
    tc.MinVersion = tls.VersionTLS13
    qc := opts.Config
    if qc == nil { qc = &quicgo.Config{KeepAlivePeriod: 15 * time.Second} }
    return &Transport{tlsConf: tc, quicConf: qc, exec: opts.Executor, backlog: opts.Backlog}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    backlog := t.backlog
    if backlog <= 0 { backlog = 8 }
    ql := &listener{l: l, t: t, newCh: make(chan *StreamConn, backlog), closeCh: make(chan struct{})}
    go ql.acceptLoop(ctx)
    go func() {
        select {
        case <-ctx.Done():
            _ = ql.Close()
        case <-ql.closeCh:
        }
    }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Handle, error) {
    c, err := quicgo.DialAddr(ctx, address, t.tlsConf, t.quicConf)
    if err != nil { return transport.Handle{}, err }
    st, err := c.OpenStreamSync(ctx)
    if err != nil {
        _ = c.CloseWithError(0, "open stream failed")
        return transport.Handle{}, err
    }
    if _, err := st.Write([]byte{streamOpen}); err != nil {
        _ = c.CloseWithError(0, "open stream failed")
        return transport.Handle{}, err
    }
    return t.bind(&StreamConn{conn: c, st: st}), nil
}

func (t *Transport) bind(sc *StreamConn) transport.Handle {
    return netsock.Handle(sc, netsock.Options{Kind: transport.KindQUIC, Executor: t.exec, Native: sc.st})
}

// ---- Listener ----

type listener struct {
    l       *quicgo.Listener
    t       *Transport
    newCh   chan *StreamConn
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Handle, error) {
    select {
    case <-ctx.Done():
        return transport.Handle{}, ctx.Err()
    case <-l.closeCh:
        return transport.Handle{}, net.ErrClosed
    case sc := <-l.newCh:
        return l.t.bind(sc), nil
    }
}

func (l *listener) Close() error {
    err := net.ErrClosed
    l.once.Do(func() {
        close(l.closeCh)
        err = l.l.Close()
    })
    return err
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        c, err := l.l.Accept(ctx)
        if err != nil { return }
        go l.acceptStream(ctx, c)
    }
}

func (l *listener) acceptStream(ctx context.Context, c quicgo.Connection) {
    st, err := c.AcceptStream(ctx)
    if err == nil {
        var b [1]byte
        _, err = st.Read(b[:])
        if err == nil && b[0] != streamOpen { err = errors.New("quic: bad stream preamble") }
    }
    if err != nil {
        zap.L().Debug("quic stream accept failed", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
        _ = c.CloseWithError(0, "")
        return
    }
    sc := &StreamConn{conn: c, st: st}
    select {
    case l.newCh <- sc:
    case <-l.closeCh:
        _ = sc.Close()
    default:
        zap.L().Warn("accept backlog full, dropping connection", zap.String("remote", c.RemoteAddr().String()))
        _ = sc.Close()
    }
}

// ---- Stream adapter ----

// StreamConn adapts one QUIC stream to net.Conn. CloseWrite sends FIN,
// CloseRead stops receiving, Close tears down the whole connection.
type StreamConn struct {
    conn quicgo.Connection
    st   quicgo.Stream
    once sync.Once
}

var _ net.Conn = (*StreamConn)(nil)

func (s *StreamConn) Read(p []byte) (int, error)         { return s.st.Read(p) }
func (s *StreamConn) Write(p []byte) (int, error)        { return s.st.Write(p) }
func (s *StreamConn) LocalAddr() net.Addr                { return s.conn.LocalAddr() }
func (s *StreamConn) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
func (s *StreamConn) SetDeadline(t time.Time) error      { return s.st.SetDeadline(t) }
func (s *StreamConn) SetReadDeadline(t time.Time) error  { return s.st.SetReadDeadline(t) }
func (s *StreamConn) SetWriteDeadline(t time.Time) error { return s.st.SetWriteDeadline(t) }

// Connection returns the QUIC connection carrying the stream.
func (s *StreamConn) Connection() quicgo.Connection { return s.conn }

func (s *StreamConn) CloseWrite() error { return s.st.Close() }

func (s *StreamConn) CloseRead() error {
    s.st.CancelRead(0)
    return nil
}

func (s *StreamConn) Close() error {
    err := net.ErrClosed
    s.once.Do(func() {
        s.st.CancelRead(0)
        _ = s.st.Close()
        err = s.conn.CloseWithError(0, "")
    })
    return err
}
