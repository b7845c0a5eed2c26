// Package sign holds the signing primitives used by the hello handshake.
package sign

import (
    "crypto/ed25519"
    "errors"
)

var ErrBadKey = errors.New("sign: bad ed25519 key length")

// SignEd25519 signs data using ed25519.
func SignEd25519(priv ed25519.PrivateKey, data []byte) ([]byte, error) {
    if len(priv) != ed25519.PrivateKeySize { return nil, ErrBadKey }
    return ed25519.Sign(priv, data), nil
}

// VerifyEd25519 verifies an ed25519 signature. Malformed keys never verify.
func VerifyEd25519(pub ed25519.PublicKey, data, sig []byte) bool {
    if len(pub) != ed25519.PublicKeySize { return false }
    return ed25519.Verify(pub, data, sig)
}
