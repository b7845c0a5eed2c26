package transport

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "sync"

    "go.uber.org/zap"
)

// ID names a handle registered in a Manager (e.g. a peer id or remote address).
type ID string

// Manager keeps the live handles of a process and tears them down in the
// graceful order: secure shutdown, transport shutdown, close.
type Manager struct {
    mu      sync.RWMutex
    handles map[ID]Handle
}

func NewManager() *Manager { return &Manager{handles: make(map[ID]Handle)} }

// Add registers h under id. An existing handle with the same id is returned
// as old and is no longer tracked; the caller decides whether to close it.
func (m *Manager) Add(id ID, h Handle) (old Handle, replaced bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    old, replaced = m.handles[id]
    m.handles[id] = h
    return old, replaced
}

// Get returns the handle registered under id.
func (m *Manager) Get(id ID) (Handle, bool) {
    m.mu.RLock()
    defer m.mu.RUnlock()
    h, ok := m.handles[id]
    return h, ok
}

// Remove stops tracking id without closing it.
func (m *Manager) Remove(id ID) (Handle, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    h, ok := m.handles[id]
    delete(m.handles, id)
    return h, ok
}

// IDs returns all registered ids in sorted order.
func (m *Manager) IDs() []ID {
    m.mu.RLock(); defer m.mu.RUnlock()
    out := make([]ID, 0, len(m.handles))
    for id := range m.handles { out = append(out, id) }
    sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
    return out
}

// Len returns the number of tracked handles.
func (m *Manager) Len() int {
    m.mu.RLock(); defer m.mu.RUnlock()
    return len(m.handles)
}

// CloseOne gracefully closes and forgets the handle under id.
func (m *Manager) CloseOne(ctx context.Context, id ID) error {
    h, ok := m.Remove(id)
    if !ok { return fmt.Errorf("transport: no handle %q", id) }
    return GracefulClose(ctx, h)
}

// CloseAll gracefully closes every tracked handle concurrently and returns
// the joined errors.
func (m *Manager) CloseAll(ctx context.Context) error {
    m.mu.Lock()
    hs := m.handles
    m.handles = make(map[ID]Handle)
    m.mu.Unlock()

    var (
        wg   sync.WaitGroup
        mu   sync.Mutex
        errs []error
    )
    for id, h := range hs {
        wg.Add(1)
        go func(id ID, h Handle) {
            defer wg.Done()
            if err := GracefulClose(ctx, h); err != nil {
                zap.L().Warn("graceful close failed", zap.String("id", string(id)), zap.String("kind", h.Kind().String()), zap.Error(err))
                mu.Lock(); errs = append(errs, fmt.Errorf("%s: %w", id, err)); mu.Unlock()
            }
        }(id, h)
    }
    wg.Wait()
    return errors.Join(errs...)
}

// GracefulClose runs the full teardown sequence on h. The secure shutdown is
// attempted only for handshake-capable sockets that completed a handshake;
// the close always runs.
func GracefulClose(ctx context.Context, h Handle) error {
    var errs []error
    if h.IsHandshaked() {
        if st, ok := h.Socket().(interface{ SecureState() SecureState }); !ok || st.SecureState() == SecureSecured {
            if err := h.SecureShutdown(ctx); err != nil { errs = append(errs, err) }
        }
    }
    if err := h.Shutdown(ShutdownSend); err != nil && !errors.Is(err, ErrShutdown) && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrUnsupported) {
        errs = append(errs, err)
    }
    if err := h.Close(); err != nil { errs = append(errs, err) }
    return errors.Join(errs...)
}
