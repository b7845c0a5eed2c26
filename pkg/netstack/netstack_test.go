package netstack

import (
    "context"
    "errors"
    "io"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "ttsock/pkg/config"
    "ttsock/pkg/transport"
)

func deps(kind string) Deps {
    c := config.Default().Transport
    c.Kind = kind
    c.Hello.NodeName = "test"
    return Deps{Config: c}
}

func TestNewByKind(t *testing.T) {
    want := map[string]transport.Kind{
        "tcp": transport.KindTCP, "tls": transport.KindTCP, "hello": transport.KindTCP,
        "quic": transport.KindQUIC, "mem": transport.KindMem, "null": transport.KindNull,
        "winpipe": transport.KindWinPipe,
    }
    for _, k := range config.Kinds {
        tr, err := New(deps(k))
        require.NoError(t, err, k)
        require.Equal(t, want[k], tr.Kind(), k)
    }
    _, err := NewByKind("carrier-pigeon", deps("tcp"))
    var uk ErrUnknownKind
    require.True(t, errors.As(err, &uk))
}

// echo copies until end-of-stream, then tears the handle down gracefully.
func echo(ctx context.Context, _ transport.ID, h transport.Handle) {
    if h.IsHandshaked() {
        if err := h.Handshake(ctx, transport.RoleServer); err != nil { _ = h.Close(); return }
    }
    buf := make([]byte, 1024)
    for {
        n, err := h.ReadSome(transport.Buffer(buf))
        if err != nil { break }
        if _, err := transport.WriteAll(h, buf[:n]); err != nil { break }
    }
    _ = transport.GracefulClose(ctx, h)
}

func roundTrip(t *testing.T, ctx context.Context, tr transport.Transport, addr string) {
    t.Helper()
    h, err := tr.Dial(ctx, addr)
    require.NoError(t, err)
    if h.IsHandshaked() { require.NoError(t, h.Handshake(ctx, transport.RoleClient)) }
    _, err = transport.WriteAll(h, []byte("echo me"))
    require.NoError(t, err)
    buf := make([]byte, 7)
    _, err = transport.ReadFull(h, buf)
    require.NoError(t, err)
    require.Equal(t, "echo me", string(buf))
    require.NoError(t, transport.GracefulClose(ctx, h))
}

func TestServeEchoMem(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    tr, err := New(deps("mem"))
    require.NoError(t, err)
    l, err := tr.Listen(ctx, "echo")
    require.NoError(t, err)
    mgr := transport.NewManager()
    served := make(chan error, 1)
    go func() { served <- Serve(ctx, l, mgr, echo) }()

    roundTrip(t, ctx, tr, "echo")
    require.Eventually(t, func() bool { return mgr.Len() == 0 }, time.Second, 5*time.Millisecond)
    cancel()
    require.NoError(t, <-served)
}

func TestServeEchoSecuredOverTCP(t *testing.T) {
    for _, kind := range []string{"tls", "hello"} {
        t.Run(kind, func(t *testing.T) {
            ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
            defer cancel()
            d := deps(kind)
            d.Config.TLS.InsecureSkipVerify = true
            tr, err := New(d)
            require.NoError(t, err)
            l, err := tr.Listen(ctx, "127.0.0.1:0")
            if err != nil { t.Skipf("loopback listen unavailable: %v", err) }
            go func() { _ = Serve(ctx, l, nil, echo) }()
            roundTrip(t, ctx, tr, l.Addr().String())
        })
    }
}

func TestDialWithBackoff(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    tr, err := New(deps("mem"))
    require.NoError(t, err)

    _, err = DialWithBackoff(ctx, tr, "late", Backoff{Initial: time.Millisecond, Attempts: 2})
    require.Error(t, err)

    go func() {
        time.Sleep(30 * time.Millisecond)
        l, err := tr.Listen(ctx, "late")
        if err != nil { return }
        h, err := l.Accept(ctx)
        if err == nil { _ = h.Close() }
    }()
    h, err := DialWithBackoff(ctx, tr, "late", Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Jitter: time.Millisecond})
    require.NoError(t, err)
    _, err = h.ReadSome(transport.Buffer(make([]byte, 1)))
    require.Equal(t, io.EOF, err)
    require.NoError(t, h.Close())
}

func TestBackoffFromConfig(t *testing.T) {
    tc := config.Default().Transport
    tc.DialBackoffInitialMS, tc.DialBackoffMaxMS, tc.DialBackoffJitterMS = 10, 80, 3
    b := BackoffFromConfig(tc, 4)
    require.Equal(t, Backoff{Initial: 10 * time.Millisecond, Max: 80 * time.Millisecond, Jitter: 3 * time.Millisecond, Attempts: 4}, b)

    // the configured pacing drives the retries
    tr, err := New(deps("mem"))
    require.NoError(t, err)
    start := time.Now()
    _, err = DialWithBackoff(context.Background(), tr, "nobody", BackoffFromConfig(tc, 3))
    require.Error(t, err)
    require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
