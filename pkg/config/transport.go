package config

import (
    "fmt"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// TransportConfig selects one socket flavour and its endpoints.
// Example YAML:
// transport:
//   kind: tls            # tcp | tls | hello | quic | mem | null | winpipe
//   listen: ":7700"
//   dial: "10.0.0.2:7700"
//   dial_backoff_initial_ms: 500
//   dial_backoff_max_ms: 30000
//   dial_backoff_jitter_ms: 100
//   tls:
//     cert_file: server.crt
//     key_file: server.key
//     server_name: node-b
//   hello:
//     node_name: node-a
//     codec: cbor
//     expect_peer: "pk:ed25519:..."
type TransportConfig struct {
    Kind    string `mapstructure:"kind" yaml:"kind"`
    Listen  string `mapstructure:"listen" yaml:"listen"`
    Dial    string `mapstructure:"dial" yaml:"dial"`
    NoDelay bool   `mapstructure:"no_delay" yaml:"no_delay"`
    Backlog int    `mapstructure:"backlog" yaml:"backlog"`

    // Redial pacing for dial --attempts.
    DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms" yaml:"dial_backoff_initial_ms"`
    DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms" yaml:"dial_backoff_max_ms"`
    DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms" yaml:"dial_backoff_jitter_ms"`

    TLS      TLSConfig     `mapstructure:"tls" yaml:"tls"`
    Hello    HelloConfig   `mapstructure:"hello" yaml:"hello"`
    Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// TLSConfig configures tls and quic kinds. Without cert files a self-signed
// certificate is derived from the identity key.
type TLSConfig struct {
    CertFile           string   `mapstructure:"cert_file" yaml:"cert_file"`
    KeyFile            string   `mapstructure:"key_file" yaml:"key_file"`
    CAFile             string   `mapstructure:"ca_file" yaml:"ca_file"`
    ServerName         string   `mapstructure:"server_name" yaml:"server_name"`
    InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
    ALPN               []string `mapstructure:"alpn" yaml:"alpn"`
}

// HelloConfig configures the hello kind.
type HelloConfig struct {
    NodeName   string `mapstructure:"node_name" yaml:"node_name"`
    Codec      string `mapstructure:"codec" yaml:"codec"` // cbor | json | proto
    MaxSkewMS  int    `mapstructure:"max_skew_ms" yaml:"max_skew_ms"`
    ExpectPeer string `mapstructure:"expect_peer" yaml:"expect_peer"`
}

type TimeoutConfig struct {
    DialMS      int `mapstructure:"dial_ms" yaml:"dial_ms"`
    HandshakeMS int `mapstructure:"handshake_ms" yaml:"handshake_ms"`
    ShutdownMS  int `mapstructure:"shutdown_ms" yaml:"shutdown_ms"`
}

func (t TimeoutConfig) Dial() time.Duration      { return ms(t.DialMS) }
func (t TimeoutConfig) Handshake() time.Duration { return ms(t.HandshakeMS) }
func (t TimeoutConfig) Shutdown() time.Duration  { return ms(t.ShutdownMS) }

func (t TransportConfig) DialBackoffInitial() time.Duration { return ms(t.DialBackoffInitialMS) }
func (t TransportConfig) DialBackoffMax() time.Duration     { return ms(t.DialBackoffMaxMS) }
func (t TransportConfig) DialBackoffJitter() time.Duration  { return ms(t.DialBackoffJitterMS) }

func (h HelloConfig) MaxSkew() time.Duration { return ms(h.MaxSkewMS) }

// Kinds lists the accepted transport.kind values.
var Kinds = []string{"tcp", "tls", "hello", "quic", "mem", "null", "winpipe"}

func (t *TransportConfig) validate() error {
    t.Kind = strings.ToLower(strings.TrimSpace(t.Kind))
    ok := false
    for _, k := range Kinds {
        if k == t.Kind { ok = true; break }
    }
    if !ok {
        return fmt.Errorf("invalid transport.kind: %q (want one of %s)", t.Kind, strings.Join(Kinds, ", "))
    }
    if (t.TLS.CertFile == "") != (t.TLS.KeyFile == "") {
        return fmt.Errorf("transport.tls: cert_file and key_file must be set together")
    }
    t.Hello.Codec = strings.ToLower(strings.TrimSpace(t.Hello.Codec))
    switch t.Hello.Codec {
    case "", "cbor", "json", "proto", "protobuf":
    default:
        return fmt.Errorf("invalid transport.hello.codec: %q", t.Hello.Codec)
    }
    if t.Timeouts.DialMS < 0 || t.Timeouts.HandshakeMS < 0 || t.Timeouts.ShutdownMS < 0 {
        return fmt.Errorf("transport.timeouts must not be negative")
    }
    if t.DialBackoffInitialMS < 0 || t.DialBackoffMaxMS < 0 || t.DialBackoffJitterMS < 0 {
        return fmt.Errorf("transport.dial_backoff_* must not be negative")
    }
    if t.DialBackoffMaxMS > 0 && t.DialBackoffMaxMS < t.DialBackoffInitialMS {
        return fmt.Errorf("transport.dial_backoff_max_ms (%d) is below dial_backoff_initial_ms (%d)", t.DialBackoffMaxMS, t.DialBackoffInitialMS)
    }
    return nil
}

func seedTransport(v *viper.Viper, t TransportConfig) {
    v.SetDefault("transport.kind", t.Kind)
    v.SetDefault("transport.listen", t.Listen)
    v.SetDefault("transport.dial", t.Dial)
    v.SetDefault("transport.no_delay", t.NoDelay)
    v.SetDefault("transport.backlog", t.Backlog)
    v.SetDefault("transport.dial_backoff_initial_ms", t.DialBackoffInitialMS)
    v.SetDefault("transport.dial_backoff_max_ms", t.DialBackoffMaxMS)
    v.SetDefault("transport.dial_backoff_jitter_ms", t.DialBackoffJitterMS)
    v.SetDefault("transport.tls.cert_file", t.TLS.CertFile)
    v.SetDefault("transport.tls.key_file", t.TLS.KeyFile)
    v.SetDefault("transport.tls.ca_file", t.TLS.CAFile)
    v.SetDefault("transport.tls.server_name", t.TLS.ServerName)
    v.SetDefault("transport.tls.insecure_skip_verify", t.TLS.InsecureSkipVerify)
    v.SetDefault("transport.tls.alpn", t.TLS.ALPN)
    v.SetDefault("transport.hello.node_name", t.Hello.NodeName)
    v.SetDefault("transport.hello.codec", t.Hello.Codec)
    v.SetDefault("transport.hello.max_skew_ms", t.Hello.MaxSkewMS)
    v.SetDefault("transport.hello.expect_peer", t.Hello.ExpectPeer)
    v.SetDefault("transport.timeouts.dial_ms", t.Timeouts.DialMS)
    v.SetDefault("transport.timeouts.handshake_ms", t.Timeouts.HandshakeMS)
    v.SetDefault("transport.timeouts.shutdown_ms", t.Timeouts.ShutdownMS)
}
