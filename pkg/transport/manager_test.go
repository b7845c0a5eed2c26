package transport_test

import (
    "context"
    "net"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/mem"
    "ttsock/pkg/transport/netsock"
)

func TestManagerAddReplaceRemove(t *testing.T) {
    m := transport.NewManager()
    a, b := plainPair(t)

    _, replaced := m.Add("peer-1", a)
    require.False(t, replaced)
    old, replaced := m.Add("peer-1", b)
    require.True(t, replaced)
    require.Equal(t, a, old)

    got, ok := m.Get("peer-1")
    require.True(t, ok)
    require.Equal(t, b, got)

    m.Add("peer-0", a)
    require.Equal(t, []transport.ID{"peer-0", "peer-1"}, m.IDs())
    require.Equal(t, 2, m.Len())

    _, ok = m.Remove("peer-0")
    require.True(t, ok)
    _, ok = m.Remove("peer-0")
    require.False(t, ok)
    require.Equal(t, 1, m.Len())
}

func TestManagerCloseAll(t *testing.T) {
    m := transport.NewManager()
    var socks []*netsock.Socket
    for i := 0; i < 4; i++ {
        c, _ := mem.Pipe()
        s := netsock.New(c, netsock.Options{Kind: transport.KindMem})
        socks = append(socks, s)
        m.Add(transport.TempID(transport.KindMem, mem.Addr(string(rune('a'+i)))), transport.NewHandle(s))
    }

    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    require.NoError(t, m.CloseAll(ctx))
    require.Equal(t, 0, m.Len())
    for _, s := range socks {
        require.Equal(t, transport.StateClosed, s.State())
    }
}

func TestManagerCloseOneUnknown(t *testing.T) {
    m := transport.NewManager()
    require.Error(t, m.CloseOne(context.Background(), "missing"))
}

func TestGracefulCloseAfterShutdown(t *testing.T) {
    a, b := plainPair(t)
    require.NoError(t, a.Shutdown(transport.ShutdownSend))
    require.NoError(t, transport.GracefulClose(context.Background(), a))
    require.NoError(t, b.Close())
}

func TestIdentityHelpers(t *testing.T) {
    require.Equal(t, transport.ID("temp:tcp:unknown"), transport.TempID(transport.KindTCP, nil))
    addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7700}
    require.Equal(t, transport.ID("temp:tcp:127.0.0.1:7700"), transport.TempID(transport.KindTCP, addr))
    require.Equal(t, transport.ID("pk:ed25519:AQID"), transport.CanonicalID(" Ed25519 ", []byte{1, 2, 3}))
}
