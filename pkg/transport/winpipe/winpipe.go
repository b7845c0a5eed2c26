// Package winpipe provides Windows named-pipe endpoints, e.g.
// \\.\pipe\ttsock. On other platforms Listen and Dial report ErrUnsupported.
package winpipe

import (
    "context"
    "net"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/netsock"
)

type Transport struct {
    wrap    transport.WrapFunc
    backlog int
}

// New returns a named-pipe transport; wrap defaults to a plain socket.
func New(wrap transport.WrapFunc, backlog int) *Transport {
    if wrap == nil {
        wrap = func(c net.Conn) transport.Socket { return netsock.New(c, netsock.Options{Kind: transport.KindWinPipe}) }
    }
    return &Transport{wrap: wrap, backlog: backlog}
}

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) serve(ctx context.Context, l net.Listener) transport.Listener {
    return netsock.Serve(ctx, l, t.wrap, t.backlog)
}
