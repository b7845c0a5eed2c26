package netstack

import (
    "context"
    "math/rand/v2"
    "time"

    "go.uber.org/zap"

    "ttsock/pkg/config"
    "ttsock/pkg/transport"
)

// Backoff controls DialWithBackoff retries.
type Backoff struct {
    Initial time.Duration
    Max     time.Duration
    Jitter  time.Duration
    // Attempts bounds the dials; 0 retries until ctx ends.
    Attempts int
}

// BackoffFromConfig reads the transport.dial_backoff_* keys.
func BackoffFromConfig(c config.TransportConfig, attempts int) Backoff {
    return Backoff{Initial: c.DialBackoffInitial(), Max: c.DialBackoffMax(), Jitter: c.DialBackoffJitter(), Attempts: attempts}
}

// DialWithBackoff dials address until it succeeds, the attempts run out or
// ctx ends. The delay doubles after each failure up to Max.
func DialWithBackoff(ctx context.Context, tr transport.Transport, address string, b Backoff) (transport.Handle, error) {
    backoff := b.Initial
    if backoff <= 0 { backoff = 500 * time.Millisecond }
    maxBackoff := b.Max
    if maxBackoff <= 0 { maxBackoff = 30 * time.Second }

    for attempt := 1; ; attempt++ {
        h, err := tr.Dial(ctx, address)
        if err == nil {
            zap.L().Info("dialed", zap.String("kind", tr.Kind().String()), zap.String("addr", address), zap.Int("attempt", attempt))
            return h, nil
        }
        zap.L().Warn("dial failed", zap.String("kind", tr.Kind().String()), zap.String("addr", address), zap.Int("attempt", attempt), zap.Error(err))
        if b.Attempts > 0 && attempt >= b.Attempts { return transport.Handle{}, err }
        select {
        case <-ctx.Done():
            return transport.Handle{}, ctx.Err()
        case <-time.After(withJitter(backoff, b.Jitter)):
        }
        if backoff < maxBackoff {
            backoff *= 2
            if backoff > maxBackoff { backoff = maxBackoff }
        }
    }
}

func withJitter(d, jitter time.Duration) time.Duration {
    if jitter <= 0 { return d }
    return d + rand.N(jitter)
}
