package transport

import (
    "context"
    "errors"
    "io"
    "net"
    "os"
)

var (
    // ErrEndOfStream reports that the peer finished sending. It is io.EOF so
    // io helpers keep working; a read never signals end-of-stream with (0, nil).
    ErrEndOfStream = io.EOF
    // ErrCancelled reports an operation failed by Cancel or Close.
    ErrCancelled = errors.New("transport: operation cancelled")
    // ErrUnsupported reports a capability the bound socket does not have.
    ErrUnsupported = errors.New("transport: operation not supported")
    // ErrHandshake reports a rejected negotiation, a protocol violation, or a
    // handshake-state precondition failure.
    ErrHandshake = errors.New("transport: handshake failure")
    // ErrShutdown reports an operation attempted after shutdown was initiated.
    ErrShutdown = errors.New("transport: shutdown in progress")
    // ErrClosed reports an operation attempted on a closed socket.
    ErrClosed = net.ErrClosed
    // ErrTruncated reports that a secured stream ended without the secure
    // close; the peer closed the transport ungracefully.
    ErrTruncated = errors.New("transport: secure stream truncated")
)

// OpError wraps a failure with the operation and transport kind.
type OpError struct {
    Op   string
    Kind Kind
    Err  error
}

func (e *OpError) Error() string {
    return e.Kind.String() + " " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp returns err wrapped in an OpError, or nil. End-of-stream is returned
// bare so callers comparing against io.EOF keep working.
func WrapOp(op string, k Kind, err error) error {
    if err == nil || err == io.EOF { return err }
    var oe *OpError
    if errors.As(err, &oe) { return err }
    return &OpError{Op: op, Kind: k, Err: err}
}

// ErrorClass is the implementation-independent failure taxonomy.
type ErrorClass int

const (
    ClassNone ErrorClass = iota
    ClassTransport
    ClassEndOfStream
    ClassCancelled
    ClassUnsupported
    ClassHandshake
    ClassShutdown
)

func (c ErrorClass) String() string {
    switch c {
    case ClassNone:
        return "none"
    case ClassTransport:
        return "transport-failure"
    case ClassEndOfStream:
        return "end-of-stream"
    case ClassCancelled:
        return "operation-cancelled"
    case ClassUnsupported:
        return "operation-unsupported"
    case ClassHandshake:
        return "handshake-failure"
    case ClassShutdown:
        return "shutdown-in-progress"
    default:
        return "unknown"
    }
}

// Classify maps any error returned by a Handle onto the taxonomy.
func Classify(err error) ErrorClass {
    switch {
    case err == nil:
        return ClassNone
    case errors.Is(err, io.EOF):
        return ClassEndOfStream
    case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
        return ClassCancelled
    case errors.Is(err, ErrUnsupported):
        return ClassUnsupported
    case errors.Is(err, ErrHandshake):
        return ClassHandshake
    case errors.Is(err, ErrShutdown), errors.Is(err, ErrClosed):
        return ClassShutdown
    default:
        return ClassTransport
    }
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
    if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) { return true }
    var ne net.Error
    return errors.As(err, &ne) && ne.Timeout()
}
