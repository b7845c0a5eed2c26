// Package identity loads the node's ed25519 key and derives the TLS material
// used by the tls and quic kinds from it.
package identity

import (
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "os"
    "strings"

    "go.uber.org/zap"

    "ttsock/pkg/config"
    "ttsock/pkg/transport"
)

// LoadOrGenEd25519 loads an ed25519 private key from config or generates a new one.
// Returns the private key and the canonical id (pk:ed25519:<b64(pub)>).
func LoadOrGenEd25519(c config.IdentityConfig) (ed25519.PrivateKey, transport.ID, error) {
    var pk ed25519.PrivateKey
    // From base64
    if s := strings.TrimSpace(c.PrivateKey); s != "" {
        if b, err := base64.RawURLEncoding.DecodeString(s); err == nil && len(b) == ed25519.PrivateKeySize {
            pk = ed25519.PrivateKey(b)
        } else {
            zap.L().Warn("failed to decode identity.private_key", zap.Error(err), zap.Int("len", len(b)))
        }
    }
    // From file
    if pk == nil && strings.TrimSpace(c.PrivateKeyFile) != "" {
        if b, err := os.ReadFile(c.PrivateKeyFile); err == nil {
            txt := strings.TrimSpace(string(b))
            if db, err := base64.RawURLEncoding.DecodeString(txt); err == nil && len(db) == ed25519.PrivateKeySize {
                pk = ed25519.PrivateKey(db)
            } else if len(b) == ed25519.PrivateKeySize {
                // raw bytes
                pk = ed25519.PrivateKey(b)
            } else {
                zap.L().Warn("identity.private_key_file holds no ed25519 key", zap.String("path", c.PrivateKeyFile))
            }
        } else {
            zap.L().Warn("failed to read identity.private_key_file", zap.Error(err))
        }
    }
    // Generate
    if pk == nil {
        _, gen, err := ed25519.GenerateKey(rand.Reader)
        if err != nil { return nil, "", err }
        pk = gen
        zap.L().Info("generated new ed25519 identity (persist to config.identity.private_key)",
            zap.String("pub_b64", base64.RawURLEncoding.EncodeToString(gen.Public().(ed25519.PublicKey))))
    }
    pub := pk.Public().(ed25519.PublicKey)
    return pk, transport.CanonicalID("ed25519", pub), nil
}

// EncodePrivateKey renders pk the way identity.private_key expects it.
func EncodePrivateKey(pk ed25519.PrivateKey) string { return base64.RawURLEncoding.EncodeToString(pk) }
