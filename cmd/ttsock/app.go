package main

import (
    "context"
    "errors"
    "fmt"
    "io"
    "time"

    "go.uber.org/zap"

    "ttsock/pkg/config"
    "ttsock/pkg/identity"
    "ttsock/pkg/netstack"
    "ttsock/pkg/reactor"
    "ttsock/pkg/transport"
)

// stack is what serve and dial share: the callback reactor and the
// transport built from config.
type stack struct {
    cfg *config.Config
    rx  *reactor.Reactor
    tr  transport.Transport
    id  transport.ID
}

func newStack(cfg *config.Config) (*stack, error) {
    priv, id, err := identity.LoadOrGenEd25519(cfg.Identity)
    if err != nil { return nil, fmt.Errorf("failed to init identity: %w", err) }
    rx := reactor.New(reactor.FromConfig(cfg.Reactor))
    hello := cfg.Transport.Hello
    if hello.NodeName == "" { hello.NodeName = cfg.AppName }
    tc := cfg.Transport
    tc.Hello = hello
    tr, err := netstack.New(netstack.Deps{Config: tc, Identity: priv, Executor: rx})
    if err != nil {
        _ = rx.Close()
        return nil, err
    }
    zap.L().Info("transport ready", zap.String("kind", cfg.Transport.Kind), zap.String("identity", string(id)))
    return &stack{cfg: cfg, rx: rx, tr: tr, id: id}, nil
}

func (s *stack) Close() error { return s.rx.Close() }

// runServe listens per config and echoes every accepted stream. ready is
// called with the bound address once listening. It returns when ctx ends,
// after tearing down every live handle.
func runServe(ctx context.Context, cfg *config.Config, ready func(addr string)) error {
    s, err := newStack(cfg)
    if err != nil { return err }
    defer s.Close()

    l, err := s.tr.Listen(ctx, cfg.Transport.Listen)
    if err != nil { return fmt.Errorf("listen %s: %w", cfg.Transport.Listen, err) }
    defer l.Close()
    zap.L().Info("listening", zap.String("kind", cfg.Transport.Kind), zap.String("addr", l.Addr().String()))
    if ready != nil { ready(l.Addr().String()) }

    mgr := transport.NewManager()
    serveErr := make(chan error, 1)
    go func() { serveErr <- netstack.Serve(ctx, l, mgr, s.echo) }()

    err = waitServe(ctx, serveErr, func() {
        sctx, cancel := context.WithTimeout(context.Background(), cfg.Transport.Timeouts.Shutdown())
        defer cancel()
        if cerr := mgr.CloseAll(sctx); cerr != nil {
            zap.L().Warn("teardown incomplete", zap.Error(cerr))
        }
    })
    zap.L().Info("serve stopped")
    return err
}

// waitServe blocks until ctx ends or the accept loop returns, runs teardown,
// and then collects the loop's result exactly once.
func waitServe(ctx context.Context, serveErr <-chan error, teardown func()) error {
    var err error
    served := false
    select {
    case <-ctx.Done():
    case err = <-serveErr:
        served = true
    }
    teardown()
    if !served { err = <-serveErr }
    return err
}

// echo drives one inbound handle: server handshake when the socket is
// secured, copy until end-of-stream, graceful teardown.
func (s *stack) echo(ctx context.Context, id transport.ID, h transport.Handle) {
    log := zap.L().With(zap.String("id", string(id)))
    if h.IsHandshaked() {
        hctx, cancel := context.WithTimeout(ctx, s.cfg.Transport.Timeouts.Handshake())
        err := h.Handshake(hctx, transport.RoleServer)
        cancel()
        if err != nil {
            log.Warn("handshake failed", zap.Error(err))
            _ = h.Close()
            return
        }
    }
    stop := context.AfterFunc(ctx, func() { _ = h.Cancel() })
    defer stop()

    var total int
    buf := make([]byte, 32*1024)
    for {
        n, err := h.ReadSome(transport.Buffer(buf))
        if err != nil {
            switch transport.Classify(err) {
            case transport.ClassEndOfStream:
                log.Debug("peer finished", zap.Int("bytes", total))
            default:
                log.Info("stream ended", zap.String("class", transport.Classify(err).String()), zap.Error(err))
            }
            break
        }
        total += n
        if _, err := transport.WriteAll(h, buf[:n]); err != nil {
            log.Info("echo write failed", zap.Error(err))
            break
        }
    }
    sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Transport.Timeouts.Shutdown())
    defer cancel()
    if err := transport.GracefulClose(sctx, h); err != nil {
        log.Debug("teardown", zap.Error(err))
    }
}

// runDial dials per config, sends message and writes the echo to out.
func runDial(ctx context.Context, cfg *config.Config, message string, attempts int, out io.Writer) error {
    s, err := newStack(cfg)
    if err != nil { return err }
    defer s.Close()

    dctx := ctx
    if d := cfg.Transport.Timeouts.Dial(); d > 0 {
        var cancel context.CancelFunc
        dctx, cancel = context.WithTimeout(ctx, d*time.Duration(max(attempts, 1)))
        defer cancel()
    }
    h, err := netstack.DialWithBackoff(dctx, s.tr, cfg.Transport.Dial, netstack.BackoffFromConfig(cfg.Transport, attempts))
    if err != nil { return fmt.Errorf("dial %s: %w", cfg.Transport.Dial, err) }

    teardown := func() error {
        sctx, cancel := context.WithTimeout(context.Background(), cfg.Transport.Timeouts.Shutdown())
        defer cancel()
        return transport.GracefulClose(sctx, h)
    }

    if h.IsHandshaked() {
        hctx, cancel := context.WithTimeout(ctx, cfg.Transport.Timeouts.Handshake())
        err := h.Handshake(hctx, transport.RoleClient)
        cancel()
        if err != nil {
            _ = h.Close()
            return err
        }
    }
    if _, err := transport.WriteAll(h, []byte(message)); err != nil {
        _ = h.Close()
        return err
    }
    echo := make([]byte, len(message))
    if _, err := transport.ReadFull(h, echo); err != nil {
        _ = h.Close()
        return fmt.Errorf("read echo: %w", err)
    }
    fmt.Fprintln(out, string(echo))
    if err := teardown(); err != nil && !errors.Is(err, transport.ErrTruncated) {
        return err
    }
    return nil
}
