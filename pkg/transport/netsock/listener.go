package netsock

import (
    "context"
    "net"
    "sync"

    "go.uber.org/zap"

    "ttsock/pkg/transport"
)

// Listener adapts a net.Listener to transport.Listener. Accepted conns are
// bound to sockets by wrap; the accept loop runs until Close or until the
// listen ctx ends.
type Listener struct {
    l       net.Listener
    wrap    transport.WrapFunc
    newCh   chan net.Conn
    closeCh chan struct{}
    once    sync.Once
}

var _ transport.Listener = (*Listener)(nil)

// Serve starts the accept loop over l. backlog bounds accepted conns waiting
// for Accept; further conns are dropped.
func Serve(ctx context.Context, l net.Listener, wrap transport.WrapFunc, backlog int) *Listener {
    if backlog <= 0 { backlog = 8 }
    sl := &Listener{l: l, wrap: wrap, newCh: make(chan net.Conn, backlog), closeCh: make(chan struct{})}
    go sl.acceptLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = sl.Close()
        case <-sl.closeCh:
        }
    }()
    return sl
}

func (l *Listener) Addr() net.Addr { return l.l.Addr() }

func (l *Listener) Accept(ctx context.Context) (transport.Handle, error) {
    select {
    case <-ctx.Done():
        return transport.Handle{}, ctx.Err()
    case <-l.closeCh:
        return transport.Handle{}, net.ErrClosed
    case c := <-l.newCh:
        return transport.NewHandle(l.wrap(c)), nil
    }
}

func (l *Listener) Close() error {
    err := net.ErrClosed
    l.once.Do(func() {
        close(l.closeCh)
        err = l.l.Close()
    })
    return err
}

func (l *Listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil { return }
        select {
        case l.newCh <- c:
        case <-l.closeCh:
            _ = c.Close()
            return
        default:
            zap.L().Warn("accept backlog full, dropping connection", zap.String("remote", c.RemoteAddr().String()))
            _ = c.Close()
        }
    }
}
