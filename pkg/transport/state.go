package transport

import (
    "fmt"
    "sync"
)

// State is the availability state shared by all facets of a socket.
type State int

const (
    StateOpen State = iota
    StateShuttingDown
    StateClosed
)

func (s State) String() string {
    switch s {
    case StateOpen:
        return "open"
    case StateShuttingDown:
        return "shutting-down"
    case StateClosed:
        return "closed"
    default:
        return "invalid"
    }
}

// StateMachine implements Open -> ShuttingDown -> Closed for socket
// implementations. The zero value is Open.
type StateMachine struct {
    mu     sync.Mutex
    state  State
    rdShut bool
    wrShut bool
}

func (m *StateMachine) State() State {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.state
}

// Shutdown moves Open -> ShuttingDown, calling fn to perform the transport
// level half/full close. The transition only happens when fn succeeds.
func (m *StateMachine) Shutdown(dir ShutdownDirection, fn func(ShutdownDirection) error) error {
    m.mu.Lock(); defer m.mu.Unlock()
    switch m.state {
    case StateClosed:
        return ErrClosed
    case StateShuttingDown:
        return ErrShutdown
    }
    if dir < ShutdownReceive || dir > ShutdownBoth {
        return fmt.Errorf("invalid shutdown direction %d", int(dir))
    }
    if fn != nil {
        if err := fn(dir); err != nil { return err }
    }
    m.state = StateShuttingDown
    m.rdShut = dir == ShutdownReceive || dir == ShutdownBoth
    m.wrShut = dir == ShutdownSend || dir == ShutdownBoth
    return nil
}

// Close moves to Closed and reports whether this call made the transition.
func (m *StateMachine) Close() bool {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state == StateClosed { return false }
    m.state = StateClosed
    return true
}

// CheckRead returns the error a read must fail with in the current state.
func (m *StateMachine) CheckRead() error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state == StateClosed { return ErrClosed }
    if m.rdShut { return ErrShutdown }
    return nil
}

// CheckWrite returns the error a write must fail with in the current state.
func (m *StateMachine) CheckWrite() error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state == StateClosed { return ErrClosed }
    if m.wrShut { return ErrShutdown }
    return nil
}

// CheckOpen returns ErrClosed once the socket is closed.
func (m *StateMachine) CheckOpen() error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state == StateClosed { return ErrClosed }
    return nil
}

// SecureState is the security-layer state layered on top of StateOpen.
type SecureState int

const (
    SecureUnsecured SecureState = iota
    SecureHandshaking
    SecureSecured
    SecureShuttingDown
    SecureFailed
)

func (s SecureState) String() string {
    switch s {
    case SecureUnsecured:
        return "unsecured"
    case SecureHandshaking:
        return "handshaking"
    case SecureSecured:
        return "secured"
    case SecureShuttingDown:
        return "secure-shutting-down"
    case SecureFailed:
        return "failed"
    default:
        return "invalid"
    }
}

// SecureMachine implements Unsecured -> Handshaking -> Secured ->
// SecureShuttingDown, with Failed as the sink for a rejected negotiation.
type SecureMachine struct {
    mu sync.Mutex
    st SecureState
}

func (m *SecureMachine) State() SecureState {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.st
}

// BeginHandshake allows exactly one negotiation per socket.
func (m *SecureMachine) BeginHandshake() error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.st != SecureUnsecured {
        return fmt.Errorf("%w: cannot handshake in state %s", ErrHandshake, m.st)
    }
    m.st = SecureHandshaking
    return nil
}

// EndHandshake records the negotiation outcome.
func (m *SecureMachine) EndHandshake(err error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if err != nil { m.st = SecureFailed; return }
    m.st = SecureSecured
}

// BeginSecureShutdown is legal only once the session is secured.
func (m *SecureMachine) BeginSecureShutdown() error {
    m.mu.Lock(); defer m.mu.Unlock()
    switch m.st {
    case SecureSecured:
        m.st = SecureShuttingDown
        return nil
    case SecureShuttingDown:
        return ErrShutdown
    default:
        return fmt.Errorf("%w: secure shutdown requires a completed handshake (state %s)", ErrHandshake, m.st)
    }
}

// AbortSecureShutdown returns to Secured when sending the secure close failed
// before anything reached the wire.
func (m *SecureMachine) AbortSecureShutdown() {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.st == SecureShuttingDown { m.st = SecureSecured }
}

// CheckRead allows reads once secured, including while the secure session is
// shutting down so the peer's remaining data can be drained.
func (m *SecureMachine) CheckRead() error {
    m.mu.Lock(); defer m.mu.Unlock()
    switch m.st {
    case SecureSecured, SecureShuttingDown:
        return nil
    default:
        return fmt.Errorf("%w: handshake required (state %s)", ErrHandshake, m.st)
    }
}

// CheckWrite allows writes only while secured.
func (m *SecureMachine) CheckWrite() error {
    m.mu.Lock(); defer m.mu.Unlock()
    switch m.st {
    case SecureSecured:
        return nil
    case SecureShuttingDown:
        return ErrShutdown
    default:
        return fmt.Errorf("%w: handshake required (state %s)", ErrHandshake, m.st)
    }
}
