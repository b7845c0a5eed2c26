package main

import (
    "bytes"
    "context"
    "errors"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "gopkg.in/yaml.v3"

    "ttsock/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "ttsock.yaml")
    if err := os.WriteFile(path, []byte(body), 0o644); err != nil { t.Fatal(err) }
    return path
}

func TestVersionCmd(t *testing.T) {
    root := newRootCmd()
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetArgs([]string{"version"})
    if err := root.Execute(); err != nil { t.Fatalf("execute: %v", err) }
    if !strings.Contains(out.String(), "ttsock version "+version) { t.Fatalf("got %q", out.String()) }
}

func TestConfigCmdRendersYAML(t *testing.T) {
    path := writeConfig(t, "transport:\n  kind: hello\n")
    root := newRootCmd()
    var out bytes.Buffer
    root.SetOut(&out)
    root.SetArgs([]string{"config", "--config", path, "--kind", "TLS"})
    if err := root.Execute(); err != nil { t.Fatalf("execute: %v", err) }
    var cfg config.Config
    if err := yaml.Unmarshal(out.Bytes(), &cfg); err != nil { t.Fatalf("yaml: %v\n%s", err, out.String()) }
    if cfg.Transport.Kind != "tls" { t.Fatalf("kind = %q", cfg.Transport.Kind) }
}

func TestBadKindRejected(t *testing.T) {
    root := newRootCmd()
    root.SetArgs([]string{"config", "--config", writeConfig(t, "{}\n"), "--kind", "smoke-signal"})
    if err := root.Execute(); err == nil { t.Fatalf("expected error") }
}

func TestServeDialEcho(t *testing.T) {
    for _, kind := range []string{"tcp", "tls", "hello"} {
        t.Run(kind, func(t *testing.T) {
            cfg := config.Default()
            cfg.Log.Outputs = []string{"stderr"}
            cfg.Transport.Kind = kind
            cfg.Transport.Listen = "127.0.0.1:0"
            cfg.Transport.TLS.InsecureSkipVerify = true
            if err := cfg.Validate(); err != nil { t.Fatal(err) }

            ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
            defer cancel()
            addrCh := make(chan string, 1)
            done := make(chan error, 1)
            go func() { done <- runServe(ctx, cfg, func(addr string) { addrCh <- addr }) }()

            var addr string
            select {
            case addr = <-addrCh:
            case err := <-done:
                t.Skipf("serve unavailable: %v", err)
            }

            dcfg := *cfg
            dcfg.Transport.Dial = addr
            var out bytes.Buffer
            if err := runDial(ctx, &dcfg, "round trip", 1, &out); err != nil { t.Fatalf("dial: %v", err) }
            if strings.TrimSpace(out.String()) != "round trip" { t.Fatalf("echo = %q", out.String()) }

            cancel()
            if err := <-done; err != nil { t.Fatalf("serve: %v", err) }
        })
    }
}

func TestWaitServeWhenBothReady(t *testing.T) {
    for i := 0; i < 200; i++ {
        ctx, cancel := context.WithCancel(context.Background())
        cancel()
        serveErr := make(chan error, 1)
        serveErr <- nil
        torn := 0
        done := make(chan error, 1)
        go func() { done <- waitServe(ctx, serveErr, func() { torn++ }) }()
        select {
        case err := <-done:
            if err != nil { t.Fatalf("waitServe: %v", err) }
        case <-time.After(2 * time.Second):
            t.Fatalf("iteration %d: waitServe hung", i)
        }
        if torn != 1 { t.Fatalf("teardown ran %d times", torn) }
    }
}

func TestWaitServeReportsLoopError(t *testing.T) {
    serveErr := make(chan error, 1)
    serveErr <- errors.New("accept failed")
    err := waitServe(context.Background(), serveErr, func() {})
    if err == nil || err.Error() != "accept failed" { t.Fatalf("got %v", err) }
}

func TestWaitServeCollectsAfterTeardown(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    serveErr := make(chan error, 1)
    err := waitServe(ctx, serveErr, func() { serveErr <- nil })
    if err != nil { t.Fatalf("waitServe: %v", err) }
}
