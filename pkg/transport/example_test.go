package transport_test

import (
    "context"
    "errors"
    "fmt"
    "io"

    "ttsock/pkg/transport"
    "ttsock/pkg/transport/mem"
    "ttsock/pkg/transport/netsock"
    "ttsock/pkg/transport/null"
)

func ExampleHandle() {
    a, b := mem.Pipe()
    cli := netsock.Handle(a, netsock.Options{Kind: transport.KindMem})
    srv := netsock.Handle(b, netsock.Options{Kind: transport.KindMem})

    _, _ = transport.WriteAll(cli, []byte("ping"))
    _ = cli.Shutdown(transport.ShutdownSend)

    buf := make([]byte, 16)
    n, _ := srv.ReadSome(transport.Buffer(buf))
    _, err := srv.ReadSome(transport.Buffer(buf))
    fmt.Println(string(buf[:n]), err == io.EOF)

    _ = cli.Close()
    _ = srv.Close()
    // Output: ping true
}

func ExampleNativeObject() {
    a, _ := mem.Pipe()
    h := netsock.Handle(a, netsock.Options{Kind: transport.KindMem})
    defer h.Close()

    if c, ok := transport.NativeObject[*mem.Conn](h); ok {
        fmt.Println("mem conn", c.LocalAddr())
    }
    _, ok := transport.NativeObject[*null.Socket](h)
    fmt.Println(ok)
    // Output:
    // mem conn pipe-a
    // false
}

func ExampleClassify() {
    h := null.Handle(nil)
    err := h.Handshake(context.Background(), transport.RoleClient)
    fmt.Println(transport.Classify(err), errors.Is(err, transport.ErrUnsupported))
    // Output: operation-unsupported true
}
