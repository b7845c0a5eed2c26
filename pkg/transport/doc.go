// Package transport defines the unified socket contract for ttsock: one
// Handle type that performs byte-stream I/O, lifecycle control and an
// optional security-layer handshake regardless of the concrete transport.
//
// Key concepts:
// - Socket: the implementation contract (Stream + Lifecycle + identity);
//   Handshaker and BufferedHandshaker are optional capabilities
// - Handle: a value bound to exactly one Socket that forwards every call and
//   gates handshake operations on IsHandshaked
// - Executor: the substrate that runs completion callbacks of async operations
// - Ops/Dispatch: outstanding operation tracking used by implementations to
//   support Cancel and exactly-once completion
// - Manager: tracks live handles and tears them down gracefully
//
// Concrete sockets live in subpackages (netsock, tlssock, hellosock, null)
// and endpoints that produce them in tcp, quic, mem and winpipe.
package transport
