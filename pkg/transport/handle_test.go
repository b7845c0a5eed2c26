package transport_test

import (
    "context"
    "errors"
    "io"
    "net"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/mem"
    "ttsock/pkg/transport/netsock"
    "ttsock/pkg/transport/null"
)

func plainPair(t *testing.T) (transport.Handle, transport.Handle) {
    t.Helper()
    a, b := mem.Pipe()
    ha := netsock.Handle(a, netsock.Options{Kind: transport.KindMem})
    hb := netsock.Handle(b, netsock.Options{Kind: transport.KindMem})
    t.Cleanup(func() { _ = ha.Close(); _ = hb.Close() })
    return ha, hb
}

func TestNewHandleRejectsNil(t *testing.T) {
    require.Panics(t, func() { transport.NewHandle(nil) })
}

func TestCapabilityGatingSync(t *testing.T) {
    h, _ := plainPair(t)
    require.False(t, h.IsHandshaked())
    require.False(t, h.CanHandshakeBuffered())

    ctx := context.Background()
    for name, err := range map[string]error{
        "handshake":       h.Handshake(ctx, transport.RoleClient),
        "buffered":        h.HandshakeBuffered(ctx, transport.RoleServer, transport.ConstBuffer([]byte("x"))),
        "secure_shutdown": h.SecureShutdown(ctx),
    } {
        require.ErrorIs(t, err, transport.ErrUnsupported, name)
        require.Equal(t, transport.ClassUnsupported, transport.Classify(err), name)
    }

    // the stream facet is untouched by the failed calls
    n, err := h.WriteSome(transport.ConstBuffer([]byte("ok")))
    require.NoError(t, err)
    require.Equal(t, 2, n)
}

func TestCapabilityGatingAsyncFiresOnce(t *testing.T) {
    h := null.Handle(nil)

    var calls atomic.Int32
    errs := make(chan error, 8)
    h.AsyncHandshake(transport.RoleClient, func(err error) { calls.Add(1); errs <- err })
    h.AsyncSecureShutdown(func(err error) { calls.Add(1); errs <- err })
    h.AsyncHandshakeBuffered(transport.RoleServer, nil, func(n int, err error) {
        calls.Add(1)
        if n != 0 { err = errors.New("consumed bytes on an unsupported call") }
        errs <- err
    })
    for i := 0; i < 3; i++ {
        select {
        case err := <-errs:
            require.ErrorIs(t, err, transport.ErrUnsupported)
        case <-time.After(2 * time.Second):
            t.Fatal("callback never fired")
        }
    }
    time.Sleep(20 * time.Millisecond)
    require.EqualValues(t, 3, calls.Load())
}

func TestMustPanicsWithError(t *testing.T) {
    h := null.Handle(nil)
    require.PanicsWithError(t, (&transport.OpError{Op: "handshake", Kind: transport.KindNull, Err: transport.ErrUnsupported}).Error(), func() {
        h.MustHandshake(context.Background(), transport.RoleClient)
    })
    require.NotPanics(t, func() { h.MustWriteSome(transport.ConstBuffer([]byte("drop"))) })
    require.NotPanics(t, h.MustCancel)
    require.NotPanics(t, h.MustClose)
}

func TestNativeObjectTypeSafety(t *testing.T) {
    a, _ := mem.Pipe()
    h := netsock.Handle(a, netsock.Options{Kind: transport.KindMem})
    defer h.Close()

    c, ok := transport.NativeObject[*mem.Conn](h)
    require.True(t, ok)
    require.Same(t, a, c)

    conn, ok := transport.NativeObject[net.Conn](h)
    require.True(t, ok)
    require.NotNil(t, conn)

    tcp, ok := transport.NativeObject[*net.TCPConn](h)
    require.False(t, ok)
    require.Nil(t, tcp)

    _, ok = transport.NativeObject[*mem.Conn](transport.Handle{})
    require.False(t, ok)
}

func TestReadFullAndWriteAll(t *testing.T) {
    a, b := plainPair(t)
    payload := []byte("hello, composed operations")
    go func() {
        _, _ = transport.WriteAll(a, payload)
        _ = a.Shutdown(transport.ShutdownSend)
    }()

    got := make([]byte, len(payload))
    n, err := transport.ReadFull(b, got)
    require.NoError(t, err)
    require.Equal(t, len(payload), n)
    require.Equal(t, payload, got)

    more := make([]byte, 4)
    n, err = transport.ReadFull(b, more)
    require.Equal(t, 0, n)
    require.Equal(t, io.EOF, err)
}

func TestReadFullUnexpectedEOF(t *testing.T) {
    h := netsock.Handle(mem.Preloaded([]byte("abc")), netsock.Options{Kind: transport.KindMem})
    defer h.Close()
    n, err := transport.ReadFull(h, make([]byte, 8))
    require.Equal(t, 3, n)
    require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConnAdapter(t *testing.T) {
    a, b := plainPair(t)
    go func() {
        w := transport.Conn(a)
        _, _ = w.Write([]byte("via io"))
        _ = a.Shutdown(transport.ShutdownSend)
    }()
    got, err := io.ReadAll(transport.Conn(b))
    require.NoError(t, err)
    require.Equal(t, "via io", string(got))
}
