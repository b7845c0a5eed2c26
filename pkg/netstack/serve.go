package netstack

import (
    "context"
    "fmt"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"

    "ttsock/pkg/transport"
)

// HandlerFunc serves one accepted handle. It owns the handle's I/O; Serve
// removes it from the manager when the handler returns.
type HandlerFunc func(ctx context.Context, id transport.ID, h transport.Handle)

var seq atomic.Uint64

// Serve accepts handles from l until ctx ends or the listener fails,
// registers each in mgr and runs handler on its own goroutine. It returns
// after every handler has returned.
func Serve(ctx context.Context, l transport.Listener, mgr *transport.Manager, handler HandlerFunc) error {
    var wg sync.WaitGroup
    defer wg.Wait()
    for {
        h, err := l.Accept(ctx)
        if err != nil {
            select {
            case <-ctx.Done():
                return nil
            default:
            }
            zap.L().Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
            return err
        }
        id := inboundID(h)
        zap.L().Info("inbound handle", zap.String("id", string(id)), zap.String("kind", h.Kind().String()), zap.Bool("handshaked", h.IsHandshaked()))
        if mgr != nil {
            if old, replaced := mgr.Add(id, h); replaced { _ = old.Close() }
        }
        wg.Add(1)
        go func() {
            defer wg.Done()
            defer func() {
                if mgr != nil { mgr.Remove(id) }
            }()
            handler(ctx, id, h)
        }()
    }
}

func inboundID(h transport.Handle) transport.ID {
    n := seq.Add(1)
    if ra := RemoteAddr(h); ra != nil {
        return transport.ID(fmt.Sprintf("%s#%d", transport.TempID(h.Kind(), ra), n))
    }
    return transport.ID(fmt.Sprintf("temp:%s#%d", h.Kind(), n))
}
