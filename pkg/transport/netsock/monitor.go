package netsock

import (
    "io"
    "net"
    "sync"
    "sync/atomic"
)

// Monitor wraps the raw conn under a security layer. It serves preloaded
// bytes before reading from the conn (buffered handshakes) and remembers
// whether the conn itself reported end-of-stream, which is how secured
// sockets tell a graceful secure close from a truncated stream.
type Monitor struct {
    net.Conn

    mu     sync.Mutex
    prefix []byte
    eof    atomic.Bool
}

func NewMonitor(c net.Conn) *Monitor { return &Monitor{Conn: c} }

// Preload queues p to be read before anything from the conn.
func (m *Monitor) Preload(p []byte) {
    m.mu.Lock()
    m.prefix = append(m.prefix, p...)
    m.mu.Unlock()
}

// Pending returns how many preloaded bytes are still unread.
func (m *Monitor) Pending() int {
    m.mu.Lock(); defer m.mu.Unlock()
    return len(m.prefix)
}

// SawEOF reports whether the raw conn reached end-of-stream.
func (m *Monitor) SawEOF() bool { return m.eof.Load() }

func (m *Monitor) Read(p []byte) (int, error) {
    m.mu.Lock()
    if len(m.prefix) > 0 {
        n := copy(p, m.prefix)
        m.prefix = m.prefix[n:]
        m.mu.Unlock()
        return n, nil
    }
    m.mu.Unlock()
    n, err := m.Conn.Read(p)
    if err == io.EOF { m.eof.Store(true) }
    return n, err
}
