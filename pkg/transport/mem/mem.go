package mem

import (
    "context"
    "errors"
    "net"
    "sync"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/netsock"
)

// Transport is an in-process transport over buffered Pipes. Useful for tests
// and as a stand-in for shared memory style links.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
    wrap      transport.WrapFunc
}

// New returns a Transport producing plain sockets. A non-nil wrap selects a
// different socket flavour (e.g. TLS over the pipe).
func New(wrap transport.WrapFunc) *Transport {
    if wrap == nil {
        wrap = func(c net.Conn) transport.Socket { return netsock.New(c, netsock.Options{Kind: transport.KindMem}) }
    }
    return &Transport{listeners: make(map[string]*listener), wrap: wrap}
}

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock(); defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok {
        return nil, errors.New("mem: listener already exists")
    }
    l := &listener{name: name, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{}), wrap: t.wrap}
    t.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done():
        case <-l.closeCh:
        }
        _ = l.Close()
        t.mu.Lock(); delete(t.listeners, name); t.mu.Unlock()
    }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string) (transport.Handle, error) {
    t.mu.Lock(); l := t.listeners[name]; t.mu.Unlock()
    if l == nil { return transport.Handle{}, errors.New("mem: no such listener") }
    cli, srv := PipeSize("dial:"+name, name, DefaultPipeSize)
    select {
    case l.newCh <- srv:
    case <-l.closeCh:
        return transport.Handle{}, errors.New("mem listener closed")
    case <-ctx.Done():
        return transport.Handle{}, ctx.Err()
    }
    return transport.NewHandle(t.wrap(cli)), nil
}

type listener struct {
    name    string
    newCh   chan net.Conn
    closeCh chan struct{}
    once    sync.Once
    wrap    transport.WrapFunc
}

func (l *listener) Addr() net.Addr { return Addr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Handle, error) {
    select {
    case <-ctx.Done():
        return transport.Handle{}, ctx.Err()
    case <-l.closeCh:
        return transport.Handle{}, errors.New("mem listener closed")
    case c := <-l.newCh:
        return transport.NewHandle(l.wrap(c)), nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() { close(l.closeCh) })
    return nil
}
