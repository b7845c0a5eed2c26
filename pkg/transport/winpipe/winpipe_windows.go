//go:build windows

package winpipe

import (
    "context"

    "github.com/Microsoft/go-winio"

    "ttsock/pkg/transport"
)

func (t *Transport) Listen(ctx context.Context, pipeName string) (transport.Listener, error) {
    // message mode gives the pipe a CloseWrite, so ShutdownSend works
    l, err := winio.ListenPipe(pipeName, &winio.PipeConfig{MessageMode: true})
    if err != nil { return nil, err }
    return t.serve(ctx, l), nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string) (transport.Handle, error) {
    c, err := winio.DialPipeContext(ctx, pipeName)
    if err != nil { return transport.Handle{}, err }
    return transport.NewHandle(t.wrap(c)), nil
}

