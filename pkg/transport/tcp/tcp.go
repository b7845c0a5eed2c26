// Package tcp provides the TCP transport. Dialed and accepted connections are
// bound to plain sockets unless a different WrapFunc (e.g. TLS) is configured.
package tcp

import (
    "context"
    "net"
    "time"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/netsock"
)

type Options struct {
    // Wrap binds each connection to a socket; defaults to a plain socket.
    Wrap transport.WrapFunc
    // NoDelay disables Nagle's algorithm (Go's default is true).
    NoDelay *bool
    KeepAlive time.Duration
    Backlog   int
}

type Transport struct {
    opts Options
}

func New(opts Options) *Transport {
    if opts.Wrap == nil {
        opts.Wrap = func(c net.Conn) transport.Socket { return netsock.New(c, netsock.Options{Kind: transport.KindTCP}) }
    }
    return &Transport{opts: opts}
}

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    lc := net.ListenConfig{KeepAlive: t.opts.KeepAlive}
    l, err := lc.Listen(ctx, "tcp", address)
    if err != nil { return nil, err }
    return netsock.Serve(ctx, l, t.wrap, t.opts.Backlog), nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Handle, error) {
    d := &net.Dialer{KeepAlive: t.opts.KeepAlive}
    c, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return transport.Handle{}, err }
    return transport.NewHandle(t.wrap(c)), nil
}

func (t *Transport) wrap(c net.Conn) transport.Socket {
    if tc, ok := c.(*net.TCPConn); ok && t.opts.NoDelay != nil {
        _ = tc.SetNoDelay(*t.opts.NoDelay)
    }
    return t.opts.Wrap(c)
}
