// Package netstack builds transports from configuration and runs the
// accept/dial plumbing around them.
package netstack

import (
    "crypto/ed25519"
    "crypto/tls"
    "fmt"
    "net"
    "strings"

    "ttsock/pkg/codec"
    "ttsock/pkg/config"
    "ttsock/pkg/identity"
    "ttsock/pkg/transport"
    "ttsock/pkg/transport/hellosock"
    "ttsock/pkg/transport/mem"
    "ttsock/pkg/transport/netsock"
    "ttsock/pkg/transport/null"
    tquic "ttsock/pkg/transport/quic"
    ttcp "ttsock/pkg/transport/tcp"
    "ttsock/pkg/transport/tlssock"
    "ttsock/pkg/transport/winpipe"
)

// Deps carries what transports need beyond their own config section.
type Deps struct {
    Config   config.TransportConfig
    Identity ed25519.PrivateKey
    // Executor delivers async completions for every socket built.
    Executor transport.Executor
}

// New builds the transport selected by d.Config.Kind.
func New(d Deps) (transport.Transport, error) { return NewByKind(d.Config.Kind, d) }

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string, d Deps) (transport.Transport, error) {
    switch strings.ToLower(strings.TrimSpace(kind)) {
    case "tcp":
        return ttcp.New(tcpOptions(d, plainWrap(transport.KindTCP, d))), nil
    case "tls":
        wrap, err := tlsWrap(d)
        if err != nil { return nil, err }
        return ttcp.New(tcpOptions(d, wrap)), nil
    case "hello":
        wrap, err := helloWrap(d)
        if err != nil { return nil, err }
        return ttcp.New(tcpOptions(d, wrap)), nil
    case "quic", "h3":
        tc, err := tlsConfig(d)
        if err != nil { return nil, err }
        return tquic.New(tquic.Options{TLS: tc, Executor: d.Executor, Backlog: d.Config.Backlog})
    case "mem", "inproc":
        return mem.New(plainWrap(transport.KindMem, d)), nil
    case "null":
        return null.NewTransport(d.Executor), nil
    case "winpipe", "pipe":
        return winpipe.New(plainWrap(transport.KindWinPipe, d), d.Config.Backlog), nil
    default:
        return nil, ErrUnknownKind(kind)
    }
}

// Basic typed error for unknown kinds
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

func tcpOptions(d Deps, wrap transport.WrapFunc) ttcp.Options {
    noDelay := d.Config.NoDelay
    return ttcp.Options{Wrap: wrap, NoDelay: &noDelay, Backlog: d.Config.Backlog}
}

func plainWrap(kind transport.Kind, d Deps) transport.WrapFunc {
    return func(c net.Conn) transport.Socket {
        return netsock.New(c, netsock.Options{Kind: kind, Executor: d.Executor})
    }
}

func tlsConfig(d Deps) (*tls.Config, error) {
    priv := d.Identity
    if priv == nil && d.Config.TLS.CertFile == "" {
        var err error
        if priv, _, err = identity.LoadOrGenEd25519(config.IdentityConfig{}); err != nil { return nil, err }
    }
    tc, err := identity.TLSConfig(d.Config.TLS, priv)
    if err != nil { return nil, fmt.Errorf("netstack: tls: %w", err) }
    return tc, nil
}

func tlsWrap(d Deps) (transport.WrapFunc, error) {
    tc, err := tlsConfig(d)
    if err != nil { return nil, err }
    opts := tlssock.Options{Config: tc, Executor: d.Executor, HandshakeTimeout: d.Config.Timeouts.Handshake()}
    return func(c net.Conn) transport.Socket { return tlssock.New(c, opts) }, nil
}

func helloWrap(d Deps) (transport.WrapFunc, error) {
    c, err := codec.ByName(d.Config.Hello.Codec)
    if err != nil { return nil, err }
    return hellosock.Wrap(hellosock.Options{
        Identity:         d.Identity,
        NodeName:         d.Config.Hello.NodeName,
        Codec:            c,
        MaxSkew:          d.Config.Hello.MaxSkew(),
        ExpectPeer:       transport.ID(d.Config.Hello.ExpectPeer),
        Executor:         d.Executor,
        HandshakeTimeout: d.Config.Timeouts.Handshake(),
    })
}

// RemoteAddr returns the peer address behind h when the socket exposes one.
func RemoteAddr(h transport.Handle) net.Addr {
    if ra, ok := h.Socket().(interface{ RemoteAddr() net.Addr }); ok { return ra.RemoteAddr() }
    if c, ok := transport.NativeObject[net.Conn](h); ok { return c.RemoteAddr() }
    return nil
}
