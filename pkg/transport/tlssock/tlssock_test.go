package tlssock_test

import (
    "context"
    "crypto/ed25519"
    "crypto/rand"
    "crypto/tls"
    "io"
    "net"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "ttsock/pkg/identity"
    "ttsock/pkg/transport"
    "ttsock/pkg/transport/mem"
    "ttsock/pkg/transport/tlssock"
)

type configs struct {
    server, client *tls.Config
    serverPub      ed25519.PublicKey
}

func newConfigs(t *testing.T) configs {
    t.Helper()
    pub, priv, err := ed25519.GenerateKey(rand.Reader)
    require.NoError(t, err)
    cert, err := identity.SelfSignedCert(priv)
    require.NoError(t, err)
    return configs{
        server:    &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13},
        client:    &tls.Config{RootCAs: identity.CertPool(cert), ServerName: "localhost", MinVersion: tls.VersionTLS13},
        serverPub: pub,
    }
}

func pair(t *testing.T, cfg configs) (*tlssock.Socket, *tlssock.Socket, *mem.Conn, *mem.Conn) {
    t.Helper()
    a, b := mem.Pipe()
    cli := tlssock.New(a, tlssock.Options{Config: cfg.client})
    srv := tlssock.New(b, tlssock.Options{Config: cfg.server})
    t.Cleanup(func() { _ = cli.Close(); _ = srv.Close() })
    return cli, srv, a, b
}

func handshakeBoth(t *testing.T, cli, srv *tlssock.Socket) (error, error) {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    srvErr := make(chan error, 1)
    go func() { srvErr <- srv.Handshake(ctx, transport.RoleServer) }()
    cliErr := cli.Handshake(ctx, transport.RoleClient)
    return cliErr, <-srvErr
}

func TestSecureShutdownBeforeHandshake(t *testing.T) {
    cli, _, _, _ := pair(t, newConfigs(t))
    h := transport.NewHandle(cli)
    require.True(t, h.IsHandshaked())
    require.True(t, h.CanHandshakeBuffered())

    err := h.SecureShutdown(context.Background())
    require.ErrorIs(t, err, transport.ErrHandshake)
    require.Equal(t, transport.ClassHandshake, transport.Classify(err))
    require.Equal(t, transport.SecureUnsecured, cli.SecureState())

    res := make(chan error, 1)
    h.AsyncSecureShutdown(func(err error) { res <- err })
    require.ErrorIs(t, <-res, transport.ErrHandshake)
}

func TestStreamRequiresHandshake(t *testing.T) {
    cli, _, _, _ := pair(t, newConfigs(t))
    _, err := cli.WriteSome(transport.ConstBuffer([]byte("plaintext")))
    require.ErrorIs(t, err, transport.ErrHandshake)
    _, err = cli.ReadSome(transport.Buffer(make([]byte, 4)))
    require.ErrorIs(t, err, transport.ErrHandshake)
}

func TestHandshakeEchoAndGracefulClose(t *testing.T) {
    cfg := newConfigs(t)
    cli, srv, _, _ := pair(t, cfg)
    cerr, serr := handshakeBoth(t, cli, srv)
    require.NoError(t, cerr)
    require.NoError(t, serr)
    require.Equal(t, transport.SecureSecured, cli.SecureState())

    cs, ok := cli.ConnectionState()
    require.True(t, ok)
    require.Equal(t, uint16(tls.VersionTLS13), cs.Version)
    id, ok := cli.PeerID()
    require.True(t, ok)
    require.Equal(t, transport.CanonicalID("ed25519", cfg.serverPub), id)

    ch, sh := transport.NewHandle(cli), transport.NewHandle(srv)
    _, err := transport.WriteAll(ch, []byte("secret"))
    require.NoError(t, err)
    got := make([]byte, 6)
    _, err = transport.ReadFull(sh, got)
    require.NoError(t, err)
    require.Equal(t, "secret", string(got))

    require.NoError(t, ch.SecureShutdown(context.Background()))
    require.Equal(t, transport.SecureShuttingDown, cli.SecureState())
    _, err = ch.WriteSome(transport.ConstBuffer([]byte("late")))
    require.ErrorIs(t, err, transport.ErrShutdown)
    require.ErrorIs(t, ch.SecureShutdown(context.Background()), transport.ErrShutdown)

    n, err := sh.ReadSome(transport.Buffer(make([]byte, 4)))
    require.Equal(t, 0, n)
    require.Equal(t, io.EOF, err)

    // the transport outlives the secure session
    require.Equal(t, transport.StateOpen, cli.State())
    require.NoError(t, ch.Close())
}

func TestCloseWithoutSecureShutdownTruncates(t *testing.T) {
    cli, srv, _, _ := pair(t, newConfigs(t))
    cerr, serr := handshakeBoth(t, cli, srv)
    require.NoError(t, cerr)
    require.NoError(t, serr)

    require.NoError(t, cli.Close())
    _, err := srv.ReadSome(transport.Buffer(make([]byte, 4)))
    require.ErrorIs(t, err, transport.ErrTruncated)
    require.Equal(t, transport.ClassTransport, transport.Classify(err))
}

func TestFailedHandshakeIsNotRetryable(t *testing.T) {
    cfg := newConfigs(t)
    cfg.client.ServerName = "elsewhere.invalid"
    cli, srv, _, _ := pair(t, cfg)
    cerr, serr := handshakeBoth(t, cli, srv)
    require.ErrorIs(t, cerr, transport.ErrHandshake)
    require.Error(t, serr)
    require.Equal(t, transport.SecureFailed, cli.SecureState())

    err := cli.Handshake(context.Background(), transport.RoleClient)
    require.ErrorIs(t, err, transport.ErrHandshake)
}

func TestHandshakeHonoursContext(t *testing.T) {
    cli, _, _, _ := pair(t, newConfigs(t))
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
    defer cancel()
    err := cli.Handshake(ctx, transport.RoleClient)
    require.ErrorIs(t, err, transport.ErrHandshake)
    require.Equal(t, transport.SecureFailed, cli.SecureState())
}

func TestBufferedHandshake(t *testing.T) {
    cfg := newConfigs(t)
    a, b := mem.Pipe()
    cli := tlssock.New(a, tlssock.Options{Config: cfg.client})
    defer cli.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    cliErr := make(chan error, 1)
    go func() { cliErr <- cli.Handshake(ctx, transport.RoleClient) }()

    // a protocol sniffer consumed the record header before the socket existed
    sniff := make([]byte, 5)
    _, err := io.ReadFull(b, sniff)
    require.NoError(t, err)
    require.Equal(t, byte(0x16), sniff[0])

    srv := tlssock.New(b, tlssock.Options{Config: cfg.server})
    defer srv.Close()
    h := transport.NewHandle(srv)
    require.NoError(t, h.HandshakeBuffered(ctx, transport.RoleServer, transport.ConstBuffer(sniff)))
    require.NoError(t, <-cliErr)

    tc, ok := transport.NativeObject[*tls.Conn](h)
    require.True(t, ok)
    require.True(t, tc.ConnectionState().HandshakeComplete)
}

func TestAsyncHandshakeBufferedReportsConsumed(t *testing.T) {
    cfg := newConfigs(t)
    a, b := mem.Pipe()
    cli := tlssock.New(a, tlssock.Options{Config: cfg.client})
    defer cli.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    cliErr := make(chan error, 1)
    go func() { cliErr <- cli.Handshake(ctx, transport.RoleClient) }()

    sniff := make([]byte, 3)
    _, err := io.ReadFull(b, sniff)
    require.NoError(t, err)

    srv := tlssock.New(b, tlssock.Options{Config: cfg.server, HandshakeTimeout: 5 * time.Second})
    defer srv.Close()
    type result struct {
        n   int
        err error
    }
    res := make(chan result, 1)
    transport.NewHandle(srv).AsyncHandshakeBuffered(transport.RoleServer, transport.ConstBuffer(sniff), func(n int, err error) {
        res <- result{n, err}
    })
    r := <-res
    require.NoError(t, r.err)
    require.Equal(t, 3, r.n)
    require.NoError(t, <-cliErr)
}

func TestAsyncHandshakeAndSecureShutdown(t *testing.T) {
    cli, srv, _, _ := pair(t, newConfigs(t))
    ch, sh := transport.NewHandle(cli), transport.NewHandle(srv)

    errs := make(chan error, 2)
    sh.AsyncHandshake(transport.RoleServer, func(err error) { errs <- err })
    ch.AsyncHandshake(transport.RoleClient, func(err error) { errs <- err })
    require.NoError(t, <-errs)
    require.NoError(t, <-errs)

    ch.AsyncSecureShutdown(func(err error) { errs <- err })
    require.NoError(t, <-errs)

    res := make(chan error, 1)
    sh.AsyncReadSome(transport.Buffer(make([]byte, 4)), func(_ int, err error) { res <- err })
    require.Equal(t, io.EOF, <-res)
}

func TestNativeObjectBeforeHandshake(t *testing.T) {
    cli, _, a, _ := pair(t, newConfigs(t))
    h := transport.NewHandle(cli)
    raw, ok := transport.NativeObject[*mem.Conn](h)
    require.True(t, ok)
    require.Same(t, a, raw)
    _, ok = transport.NativeObject[*tls.Conn](h)
    require.False(t, ok)
    _, ok = transport.NativeObject[net.Conn](h)
    require.True(t, ok)
}

func TestCancelledWriteBreaksWriteSide(t *testing.T) {
    cfg := newConfigs(t)
    a, b := mem.PipeSize("a", "b", 4096)
    cli := tlssock.New(a, tlssock.Options{Config: cfg.client})
    srv := tlssock.New(b, tlssock.Options{Config: cfg.server})
    t.Cleanup(func() { _ = cli.Close(); _ = srv.Close() })
    cerr, serr := handshakeBoth(t, cli, srv)
    require.NoError(t, cerr)
    require.NoError(t, serr)

    var fired atomic.Int32
    res := make(chan error, 1)
    cli.AsyncWriteSome(transport.ConstBuffer(make([]byte, 64<<10)), func(_ int, err error) {
        fired.Add(1)
        res <- err
    })
    require.Eventually(t, func() bool { return b.Buffered() == 4096 }, 2*time.Second, time.Millisecond)
    require.NoError(t, cli.Cancel())
    if err := <-res; err != nil { require.ErrorIs(t, err, transport.ErrCancelled) }
    require.Equal(t, int32(1), fired.Load())

    _, err := cli.WriteSome(transport.ConstBuffer([]byte("after cancel")))
    require.ErrorIs(t, err, tlssock.ErrWriteBroken)
    require.ErrorIs(t, err, transport.ErrShutdown)
    require.Equal(t, transport.ClassShutdown, transport.Classify(err))

    done := make(chan error, 1)
    cli.AsyncWriteSome(transport.ConstBuffer([]byte("x")), func(_ int, err error) { done <- err })
    require.ErrorIs(t, <-done, tlssock.ErrWriteBroken)

    err = cli.SecureShutdown(context.Background())
    require.ErrorIs(t, err, tlssock.ErrWriteBroken)
    require.Equal(t, transport.SecureSecured, cli.SecureState())

    // the read side is untouched
    _, err = srv.WriteSome(transport.ConstBuffer([]byte("reply")))
    require.NoError(t, err)
    p := make([]byte, 5)
    _, err = transport.ReadFull(transport.NewHandle(cli), p)
    require.NoError(t, err)
    require.Equal(t, "reply", string(p))
}

func TestShutdownReceive(t *testing.T) {
    cli, srv, _, _ := pair(t, newConfigs(t))
    cerr, serr := handshakeBoth(t, cli, srv)
    require.NoError(t, cerr)
    require.NoError(t, serr)

    require.NoError(t, srv.Shutdown(transport.ShutdownReceive))
    require.Equal(t, transport.StateShuttingDown, srv.State())
    _, err := srv.ReadSome(transport.Buffer(make([]byte, 4)))
    require.ErrorIs(t, err, transport.ErrShutdown)
    require.Equal(t, transport.ClassShutdown, transport.Classify(err))

    res := make(chan error, 1)
    srv.AsyncReadSome(transport.Buffer(make([]byte, 4)), func(_ int, err error) { res <- err })
    require.ErrorIs(t, <-res, transport.ErrShutdown)

    _, err = srv.WriteSome(transport.ConstBuffer([]byte("still")))
    require.NoError(t, err)
    p := make([]byte, 5)
    _, err = transport.ReadFull(transport.NewHandle(cli), p)
    require.NoError(t, err)
    require.Equal(t, "still", string(p))
}
