//go:build windows

package winpipe

import (
    "context"
    "fmt"
    "os"
    "testing"
    "time"

    "ttsock/pkg/transport"
)

func TestPipeEcho(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    name := fmt.Sprintf(`\\.\pipe\ttsock-test-%d`, os.Getpid())
    tr := New(nil, 0)
    l, err := tr.Listen(ctx, name)
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()

    accepted := make(chan transport.Handle, 1)
    go func() {
        h, err := l.Accept(ctx)
        if err == nil { accepted <- h }
    }()
    cli, err := tr.Dial(ctx, name)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer cli.Close()
    srv := <-accepted
    defer srv.Close()

    if _, err := transport.WriteAll(cli, []byte("pipe")); err != nil { t.Fatalf("write: %v", err) }
    buf := make([]byte, 4)
    if _, err := transport.ReadFull(srv, buf); err != nil { t.Fatalf("read: %v", err) }
    if string(buf) != "pipe" { t.Fatalf("got %q", buf) }
}
