// Package reactor is the execution substrate for async completions: a fixed
// pool of workers draining a callback queue. It implements
// transport.Executor, so sockets post completion callbacks here instead of
// running them on the goroutine that finished the I/O.
package reactor

import (
    "errors"
    "runtime"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"

    "ttsock/pkg/config"
    "ttsock/pkg/transport"
)

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("reactor: closed")

type Options struct {
    // Workers defaults to GOMAXPROCS. One worker serializes every callback.
    Workers   int
    QueueSize int
}

// FromConfig maps the reactor config section to Options.
func FromConfig(c config.ReactorConfig) Options {
    return Options{Workers: c.Workers, QueueSize: c.QueueSize}
}

// Stats is a snapshot of reactor counters.
type Stats struct {
    Posted    uint64
    Completed uint64
    Panics    uint64
    Queued    int
}

type Reactor struct {
    mu     sync.RWMutex
    closed bool
    queue  chan func()
    wg     sync.WaitGroup

    posted    atomic.Uint64
    completed atomic.Uint64
    panics    atomic.Uint64
}

var _ transport.Executor = (*Reactor)(nil)

func New(opts Options) *Reactor {
    if opts.Workers <= 0 { opts.Workers = runtime.GOMAXPROCS(0) }
    if opts.QueueSize <= 0 { opts.QueueSize = 256 }
    r := &Reactor{queue: make(chan func(), opts.QueueSize)}
    for i := 0; i < opts.Workers; i++ {
        r.wg.Add(1)
        go r.worker(i)
    }
    return r
}

// Post queues fn. It blocks while the queue is full and fails once the
// reactor is closed.
func (r *Reactor) Post(fn func()) error {
    r.mu.RLock()
    defer r.mu.RUnlock()
    if r.closed { return ErrClosed }
    r.posted.Add(1)
    r.queue <- fn
    return nil
}

// Close stops intake, runs the callbacks already queued and waits for the
// workers to exit. Closing twice is a no-op.
func (r *Reactor) Close() error {
    r.mu.Lock()
    if r.closed { r.mu.Unlock(); return nil }
    r.closed = true
    close(r.queue)
    r.mu.Unlock()
    r.wg.Wait()
    return nil
}

func (r *Reactor) Stats() Stats {
    return Stats{
        Posted:    r.posted.Load(),
        Completed: r.completed.Load(),
        Panics:    r.panics.Load(),
        Queued:    len(r.queue),
    }
}

func (r *Reactor) worker(id int) {
    defer r.wg.Done()
    for fn := range r.queue {
        r.run(id, fn)
    }
}

func (r *Reactor) run(id int, fn func()) {
    defer func() {
        r.completed.Add(1)
        if v := recover(); v != nil {
            r.panics.Add(1)
            zap.L().Error("completion callback panicked", zap.Int("worker", id), zap.Any("panic", v), zap.Stack("stack"))
        }
    }()
    fn()
}
