package transport

import (
    "context"
    "net"
)

// Kind identifies the concrete link type behind a Socket.
type Kind int

const (
    KindUnknown Kind = iota
    KindTCP
    KindTLS
    KindHello
    KindQUIC
    KindMem
    KindNull
    KindWinPipe
)

func (k Kind) String() string {
    switch k {
    case KindTCP:
        return "tcp"
    case KindTLS:
        return "tls"
    case KindHello:
        return "hello"
    case KindQUIC:
        return "quic"
    case KindMem:
        return "mem"
    case KindNull:
        return "null"
    case KindWinPipe:
        return "winpipe"
    default:
        return "unknown"
    }
}

// HandshakeRole selects the negotiation role of the security layer.
type HandshakeRole int

const (
    RoleClient HandshakeRole = iota
    RoleServer
)

func (r HandshakeRole) String() string {
    if r == RoleServer { return "server" }
    return "client"
}

// ShutdownDirection selects which half of a duplex stream to close.
type ShutdownDirection int

const (
    ShutdownReceive ShutdownDirection = iota
    ShutdownSend
    ShutdownBoth
)

func (d ShutdownDirection) String() string {
    switch d {
    case ShutdownReceive:
        return "receive"
    case ShutdownSend:
        return "send"
    case ShutdownBoth:
        return "both"
    default:
        return "invalid"
    }
}

// TransferFunc completes a read, write or buffered handshake with the number
// of bytes transferred.
type TransferFunc func(n int, err error)

// ErrorFunc completes a control operation (handshake, secure shutdown).
type ErrorFunc func(err error)

// Executor runs completion callbacks. Post returns an error once the
// executor no longer accepts work; accepted callbacks run exactly once.
type Executor interface {
    Post(fn func()) error
}

// Stream is the byte-stream facet.
type Stream interface {
    // ReadSome reads at least one byte into bufs or fails.
    ReadSome(bufs MutableBuffers) (int, error)
    // WriteSome writes at least one byte from bufs or fails.
    WriteSome(bufs ConstBuffers) (int, error)
    // AsyncReadSome returns immediately; cb fires exactly once via the executor.
    AsyncReadSome(bufs MutableBuffers, cb TransferFunc)
    // AsyncWriteSome returns immediately; cb fires exactly once via the executor.
    AsyncWriteSome(bufs ConstBuffers, cb TransferFunc)
}

// Lifecycle is the connection availability facet.
type Lifecycle interface {
    // Cancel fails outstanding operations with ErrCancelled.
    Cancel() error
    // Shutdown half- or fully closes the transport; valid only while open.
    Shutdown(dir ShutdownDirection) error
    // Close releases the transport. Closing a closed socket is a no-op.
    Close() error
}

// Socket is the contract every concrete transport implements.
type Socket interface {
    Stream
    Lifecycle

    Kind() Kind
    // IsHandshaked reports whether the socket carries a security layer that
    // must be negotiated with Handshake and terminated with SecureShutdown.
    // The value never changes over the life of the socket.
    IsHandshaked() bool
    // NativeObject returns the concrete underlying object (e.g. *net.TCPConn).
    NativeObject() any
    // Executor returns the substrate that delivers completions for this socket.
    Executor() Executor
}

// Handshaker is implemented by sockets with a security layer.
type Handshaker interface {
    Handshake(ctx context.Context, role HandshakeRole) error
    AsyncHandshake(role HandshakeRole, cb ErrorFunc)
    // SecureShutdown terminates the secure session without closing the transport.
    SecureShutdown(ctx context.Context) error
    AsyncSecureShutdown(cb ErrorFunc)
}

// BufferedHandshaker is an optional capability: the negotiation is seeded
// with bytes the caller already read from the transport.
type BufferedHandshaker interface {
    HandshakeBuffered(ctx context.Context, role HandshakeRole, bufs ConstBuffers) error
    AsyncHandshakeBuffered(role HandshakeRole, bufs ConstBuffers, cb TransferFunc)
}

// Listener accepts inbound handles.
type Listener interface {
    // Accept blocks until an inbound handle is available or ctx is done.
    Accept(ctx context.Context) (Handle, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind. Endpoints
// never run the security handshake; callers drive it through the Handle.
type Transport interface {
    Kind() Kind
    Listen(ctx context.Context, address string) (Listener, error)
    Dial(ctx context.Context, address string) (Handle, error)
}

// WrapFunc turns an established connection into a Socket. Endpoints use it
// to choose the socket flavour (plain, TLS, hello) independent of the link.
type WrapFunc func(conn net.Conn) Socket
