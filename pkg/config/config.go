// Package config provides YAML-based configuration loading for ttsock.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name used in logs and hello frames
    AppName string `mapstructure:"app_name" yaml:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log" yaml:"log"`

    // Transport selects the socket flavour and its endpoints.
    Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

    // Identity controls the ed25519 key used by hello sockets and TLS certs.
    Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`

    // Reactor sizes the callback worker pool.
    Reactor ReactorConfig `mapstructure:"reactor" yaml:"reactor"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level" yaml:"level"`
    // Format: console or json
    Format string `mapstructure:"format" yaml:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs" yaml:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable" yaml:"enable"`
    Filename   string `mapstructure:"filename" yaml:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
    Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ReactorConfig sizes pkg/reactor. Workers 1 gives a single-threaded
// callback substrate.
type ReactorConfig struct {
    Workers   int `mapstructure:"workers" yaml:"workers"`
    QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "ttsock",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/ttsock.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Transport: TransportConfig{
            Kind:   "tcp",
            Listen: "127.0.0.1:7700",
            Dial:   "127.0.0.1:7700",
            NoDelay: true,
            Backlog: 16,
            DialBackoffInitialMS: 500,
            DialBackoffMaxMS:     30000,
            DialBackoffJitterMS:  100,
            TLS:    TLSConfig{ServerName: "localhost", ALPN: []string{"ttsock"}},
            Hello:  HelloConfig{Codec: "cbor", MaxSkewMS: 300000},
            Timeouts: TimeoutConfig{DialMS: 5000, HandshakeMS: 10000, ShutdownMS: 2000},
        },
        Identity: IdentityConfig{Alg: "ed25519"},
        Reactor:  ReactorConfig{Workers: 4, QueueSize: 256},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix TTSOCK and `.`/`-` are replaced with `_`.
// Example: TTSOCK_TRANSPORT_KIND=tls
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("TTSOCK")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    seedTransport(v, cfg.Transport)
    v.SetDefault("identity.alg", cfg.Identity.Alg)
    v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
    v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
    v.SetDefault("reactor.workers", cfg.Reactor.Workers)
    v.SetDefault("reactor.queue_size", cfg.Reactor.QueueSize)

    if path == "" {
        if envPath := os.Getenv("TTSOCK_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("ttsock")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".ttsock"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.Validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

// Validate checks and normalizes c. Load calls it; callers that override
// fields afterwards call it again.
func (c *Config) Validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if err := c.Transport.validate(); err != nil {
        return err
    }
    if c.Reactor.Workers < 0 || c.Reactor.QueueSize < 0 {
        return fmt.Errorf("invalid reactor sizing: workers=%d queue_size=%d", c.Reactor.Workers, c.Reactor.QueueSize)
    }
    if c.Identity.Alg != "" && !strings.EqualFold(c.Identity.Alg, "ed25519") {
        return fmt.Errorf("invalid identity.alg: %q", c.Identity.Alg)
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
