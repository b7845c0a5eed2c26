package quic_test

import (
    "context"
    "io"
    "testing"
    "time"

    quicgo "github.com/quic-go/quic-go"
    "github.com/stretchr/testify/require"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/quic"
)

func TestLoopbackEcho(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    tr, err := quic.New(quic.Options{})
    require.NoError(t, err)
    l, err := tr.Listen(ctx, "127.0.0.1:0")
    if err != nil { t.Skipf("udp loopback unavailable: %v", err) }
    defer l.Close()

    accepted := make(chan transport.Handle, 1)
    go func() {
        h, err := l.Accept(ctx)
        if err == nil { accepted <- h }
    }()
    cli, err := tr.Dial(ctx, l.Addr().String())
    require.NoError(t, err)
    defer cli.Close()

    var srv transport.Handle
    select {
    case srv = <-accepted:
    case <-ctx.Done():
        t.Fatalf("accept timed out")
    }
    defer srv.Close()

    require.Equal(t, transport.KindQUIC, cli.Kind())
    require.False(t, cli.IsHandshaked())
    _, ok := transport.NativeObject[quicgo.Stream](cli)
    require.True(t, ok)

    _, err = transport.WriteAll(cli, []byte("over quic"))
    require.NoError(t, err)
    buf := make([]byte, 9)
    _, err = transport.ReadFull(srv, buf)
    require.NoError(t, err)
    require.Equal(t, "over quic", string(buf))

    require.NoError(t, cli.Shutdown(transport.ShutdownSend))
    _, err = srv.ReadSome(transport.Buffer(buf))
    require.Equal(t, io.EOF, err)
}
