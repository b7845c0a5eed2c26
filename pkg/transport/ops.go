package transport

import (
    "sync"
    "sync/atomic"
)

// Op is one outstanding operation of a socket.
type Op struct {
    cancelled atomic.Bool
    done      chan struct{}
}

// Cancelled reports whether Cancel or Close interrupted the op.
func (op *Op) Cancelled() bool { return op.cancelled.Load() }

// Ops tracks the outstanding operations of one socket so that Cancel and
// Close can fail exactly the operations that were in flight when called.
type Ops struct {
    mu     sync.Mutex
    active map[*Op]struct{}
}

// Begin registers a new outstanding operation.
func (o *Ops) Begin() *Op {
    op := &Op{done: make(chan struct{})}
    o.mu.Lock()
    if o.active == nil { o.active = make(map[*Op]struct{}) }
    o.active[op] = struct{}{}
    o.mu.Unlock()
    return op
}

// Finish unregisters op. A failure of an interrupted op becomes ErrCancelled;
// an op that completed despite the interruption keeps its result.
func (o *Ops) Finish(op *Op, err error) error {
    o.mu.Lock()
    delete(o.active, op)
    o.mu.Unlock()
    close(op.done)
    if err != nil && op.cancelled.Load() { return ErrCancelled }
    return err
}

// Len returns the number of outstanding operations.
func (o *Ops) Len() int {
    o.mu.Lock(); defer o.mu.Unlock()
    return len(o.active)
}

// Interrupt marks every outstanding op cancelled, calls interrupt to unblock
// them, waits until each has finished and then calls resume so operations
// issued afterwards are unaffected. With nothing outstanding it does nothing.
func (o *Ops) Interrupt(interrupt, resume func()) int {
    o.mu.Lock()
    pending := make([]*Op, 0, len(o.active))
    for op := range o.active {
        op.cancelled.Store(true)
        pending = append(pending, op)
    }
    o.mu.Unlock()
    if len(pending) == 0 { return 0 }
    if interrupt != nil { interrupt() }
    for _, op := range pending { <-op.done }
    if resume != nil { resume() }
    return len(pending)
}

// Run executes fn as a tracked synchronous operation.
func (o *Ops) Run(fn func() (int, error)) (int, error) {
    op := o.Begin()
    n, err := fn()
    return n, o.Finish(op, err)
}

// Dispatch runs fn as a tracked operation on its own goroutine and delivers
// the result to cb through exec. The op is registered before Dispatch
// returns, so a Cancel issued right after it observes the operation.
func Dispatch(exec Executor, ops *Ops, fn func() (int, error), cb TransferFunc) {
    op := ops.Begin()
    go func() {
        n, err := fn()
        err = ops.Finish(op, err)
        Complete(exec, cb, n, err)
    }()
}

// DispatchErr is Dispatch for control operations.
func DispatchErr(exec Executor, ops *Ops, fn func() error, cb ErrorFunc) {
    Dispatch(exec, ops, func() (int, error) { return 0, fn() }, func(_ int, err error) {
        if cb != nil { cb(err) }
    })
}

// Complete posts cb(n, err) to exec. When the executor has been torn down,
// cb runs on the calling goroutine with ErrShutdown instead. cb fires once.
func Complete(exec Executor, cb TransferFunc, n int, err error) {
    if cb == nil { return }
    var once sync.Once
    fire := func(n int, err error) { once.Do(func() { cb(n, err) }) }
    if exec == nil { exec = Goroutines{} }
    if perr := exec.Post(func() { fire(n, err) }); perr != nil {
        fire(n, ErrShutdown)
    }
}

// Goroutines is an Executor that runs every callback on a fresh goroutine.
// It is used when a socket is created without an executor.
type Goroutines struct{}

func (Goroutines) Post(fn func()) error { go fn(); return nil }
