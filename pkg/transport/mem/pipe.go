package mem

import (
    "io"
    "net"
    "os"
    "sync"
    "time"
)

// DefaultPipeSize is the per-direction capacity of a Pipe.
const DefaultPipeSize = 64 * 1024

// Pipe returns two connected in-memory endpoints. Unlike net.Pipe each
// direction is buffered (up to DefaultPipeSize bytes), so a writer does not
// wait for the reader and bytes can be preloaded before a socket is built.
// Both ends support deadlines, CloseWrite and CloseRead.
func Pipe() (*Conn, *Conn) { return PipeSize("pipe-a", "pipe-b", DefaultPipeSize) }

// PipeSize is Pipe with explicit endpoint names and capacity.
func PipeSize(nameA, nameB string, size int) (*Conn, *Conn) {
    if size <= 0 { size = DefaultPipeSize }
    ab := newBuffer(size)
    ba := newBuffer(size)
    a := &Conn{local: Addr(nameA), remote: Addr(nameB), rx: ba, tx: ab, done: make(chan struct{})}
    b := &Conn{local: Addr(nameB), remote: Addr(nameA), rx: ab, tx: ba, done: make(chan struct{})}
    a.rd, a.wd = makeDeadline(), makeDeadline()
    b.rd, b.wd = makeDeadline(), makeDeadline()
    return a, b
}

// Preloaded returns an endpoint whose peer already wrote data and then closed
// its sending half, so the endpoint reads data followed by end-of-stream.
func Preloaded(data []byte) *Conn {
    a, b := PipeSize("stub", "stub-peer", len(data)+DefaultPipeSize)
    _, _ = b.Write(data)
    _ = b.CloseWrite()
    return a
}

// Addr is the address of an in-memory endpoint.
type Addr string

func (a Addr) Network() string { return "mem" }
func (a Addr) String() string  { return string(a) }

// buffer is one direction of a pipe.
type buffer struct {
    mu     sync.Mutex
    data   []byte
    size   int
    eof    bool // writer closed its half
    broken bool // reader gone; writes fail
    signal chan struct{}
}

func newBuffer(size int) *buffer { return &buffer{size: size, signal: make(chan struct{})} }

// notify wakes every waiter. Callers hold mu.
func (b *buffer) notify() {
    close(b.signal)
    b.signal = make(chan struct{})
}

// Conn is one end of a Pipe.
type Conn struct {
    local, remote Addr
    rx, tx        *buffer
    rd, wd        *deadline

    closeOnce sync.Once
    done      chan struct{}
}

var _ net.Conn = (*Conn)(nil)

func (c *Conn) closed() bool {
    select {
    case <-c.done:
        return true
    default:
        return false
    }
}

func (c *Conn) Read(p []byte) (int, error) {
    for {
        if c.closed() { return 0, net.ErrClosed }
        if isClosedChan(c.rd.wait()) { return 0, os.ErrDeadlineExceeded }
        c.rx.mu.Lock()
        if len(c.rx.data) > 0 {
            n := copy(p, c.rx.data)
            c.rx.data = c.rx.data[n:]
            c.rx.notify()
            c.rx.mu.Unlock()
            return n, nil
        }
        if c.rx.eof {
            c.rx.mu.Unlock()
            return 0, io.EOF
        }
        if len(p) == 0 {
            c.rx.mu.Unlock()
            return 0, nil
        }
        ch := c.rx.signal
        c.rx.mu.Unlock()
        select {
        case <-ch:
        case <-c.rd.wait():
        case <-c.done:
        }
    }
}

func (c *Conn) Write(p []byte) (int, error) {
    n := 0
    for {
        if c.closed() { return n, net.ErrClosed }
        if isClosedChan(c.wd.wait()) { return n, os.ErrDeadlineExceeded }
        c.tx.mu.Lock()
        if c.tx.eof {
            c.tx.mu.Unlock()
            return n, io.ErrClosedPipe
        }
        if c.tx.broken {
            c.tx.mu.Unlock()
            return n, io.ErrClosedPipe
        }
        if room := c.tx.size - len(c.tx.data); room > 0 && len(p) > 0 {
            m := len(p)
            if m > room { m = room }
            c.tx.data = append(c.tx.data, p[:m]...)
            p = p[m:]
            n += m
            c.tx.notify()
        }
        if len(p) == 0 {
            c.tx.mu.Unlock()
            return n, nil
        }
        ch := c.tx.signal
        c.tx.mu.Unlock()
        select {
        case <-ch:
        case <-c.wd.wait():
        case <-c.done:
        }
    }
}

// CloseWrite finishes the sending half; the peer reads end-of-stream after
// draining buffered bytes.
func (c *Conn) CloseWrite() error {
    if c.closed() { return net.ErrClosed }
    c.tx.mu.Lock()
    c.tx.eof = true
    c.tx.notify()
    c.tx.mu.Unlock()
    return nil
}

// CloseRead discards unread bytes; the peer's later writes fail.
func (c *Conn) CloseRead() error {
    if c.closed() { return net.ErrClosed }
    c.rx.mu.Lock()
    c.rx.broken = true
    c.rx.data = nil
    c.rx.eof = true
    c.rx.notify()
    c.rx.mu.Unlock()
    return nil
}

// Close closes both halves. Closing twice returns net.ErrClosed.
func (c *Conn) Close() error {
    err := net.ErrClosed
    c.closeOnce.Do(func() {
        err = nil
        close(c.done)
        c.tx.mu.Lock()
        c.tx.eof = true
        c.tx.notify()
        c.tx.mu.Unlock()
        c.rx.mu.Lock()
        c.rx.broken = true
        c.rx.notify()
        c.rx.mu.Unlock()
    })
    return err
}

// Buffered returns the number of bytes waiting to be read.
func (c *Conn) Buffered() int {
    c.rx.mu.Lock(); defer c.rx.mu.Unlock()
    return len(c.rx.data)
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

func (c *Conn) SetDeadline(t time.Time) error {
    if c.closed() { return net.ErrClosed }
    c.rd.set(t)
    c.wd.set(t)
    return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
    if c.closed() { return net.ErrClosed }
    c.rd.set(t)
    return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
    if c.closed() { return net.ErrClosed }
    c.wd.set(t)
    return nil
}

// deadline is an abstraction for handling timeouts.
type deadline struct {
    mu     sync.Mutex
    timer  *time.Timer
    cancel chan struct{} // closed when the deadline passes
}

func makeDeadline() *deadline { return &deadline{cancel: make(chan struct{})} }

// set sets the point in time when the deadline will time out. A zero value
// for t disables the deadline.
func (d *deadline) set(t time.Time) {
    d.mu.Lock()
    defer d.mu.Unlock()

    if d.timer != nil && !d.timer.Stop() {
        <-d.cancel // wait for the timer callback to finish and close cancel
    }
    d.timer = nil

    closed := isClosedChan(d.cancel)
    if t.IsZero() {
        if closed { d.cancel = make(chan struct{}) }
        return
    }
    if dur := time.Until(t); dur > 0 {
        if closed { d.cancel = make(chan struct{}) }
        cancel := d.cancel
        d.timer = time.AfterFunc(dur, func() { close(cancel) })
        return
    }
    if !closed { close(d.cancel) }
}

// wait returns a channel that is closed when the deadline is exceeded.
func (d *deadline) wait() chan struct{} {
    d.mu.Lock()
    defer d.mu.Unlock()
    return d.cancel
}

func isClosedChan(c <-chan struct{}) bool {
    select {
    case <-c:
        return true
    default:
        return false
    }
}
