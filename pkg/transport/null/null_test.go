package null_test

import (
    "context"
    "io"
    "testing"

    "github.com/stretchr/testify/require"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/null"
)

func TestNullStream(t *testing.T) {
    s := null.New(nil)
    h := transport.NewHandle(s)
    require.Equal(t, transport.KindNull, h.Kind())
    require.False(t, h.IsHandshaked())

    n, err := h.WriteSome(transport.ConstBuffers{[]byte("abc"), []byte("de")})
    require.NoError(t, err)
    require.Equal(t, 5, n)
    require.EqualValues(t, 5, s.Discarded())

    n, err = h.ReadSome(transport.Buffer(make([]byte, 8)))
    require.Equal(t, 0, n)
    require.Equal(t, io.EOF, err)

    n, err = h.ReadSome(nil)
    require.NoError(t, err)
    require.Zero(t, n)

    got, ok := transport.NativeObject[*null.Socket](h)
    require.True(t, ok)
    require.Same(t, s, got)
}

func TestNullAsyncAndLifecycle(t *testing.T) {
    h := null.Handle(nil)
    done := make(chan error, 1)
    h.AsyncReadSome(transport.Buffer(make([]byte, 1)), func(_ int, err error) { done <- err })
    require.Equal(t, io.EOF, <-done)

    err := h.Handshake(context.Background(), transport.RoleClient)
    require.ErrorIs(t, err, transport.ErrUnsupported)

    require.NoError(t, h.Shutdown(transport.ShutdownSend))
    _, err = h.WriteSome(transport.ConstBuffer([]byte{1}))
    require.ErrorIs(t, err, transport.ErrShutdown)

    require.NoError(t, h.Close())
    require.NoError(t, h.Close())
    _, err = h.ReadSome(transport.Buffer(make([]byte, 1)))
    require.ErrorIs(t, err, transport.ErrClosed)
}

func TestNullTransport(t *testing.T) {
    tr := null.NewTransport(nil)
    h, err := tr.Dial(context.Background(), "anything")
    require.NoError(t, err)
    require.Equal(t, transport.KindNull, h.Kind())
    _, err = tr.Listen(context.Background(), "")
    require.Equal(t, transport.ClassUnsupported, transport.Classify(err))
}
