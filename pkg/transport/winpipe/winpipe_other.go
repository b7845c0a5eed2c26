//go:build !windows

package winpipe

import (
    "context"
    "fmt"
    "runtime"

    "ttsock/pkg/transport"
)

func (t *Transport) Listen(context.Context, string) (transport.Listener, error) {
    return nil, fmt.Errorf("winpipe on %s: %w", runtime.GOOS, transport.ErrUnsupported)
}

func (t *Transport) Dial(context.Context, string) (transport.Handle, error) {
    return transport.Handle{}, fmt.Errorf("winpipe on %s: %w", runtime.GOOS, transport.ErrUnsupported)
}
