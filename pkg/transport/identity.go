package transport

import (
    "encoding/base64"
    "fmt"
    "net"
    "strings"
)

// TempID builds a temporary id from transport kind and remote address. It is
// suitable to register a handle before its peer is authenticated.
func TempID(kind Kind, addr net.Addr) ID {
    if addr == nil { return ID(fmt.Sprintf("temp:%s:unknown", kind)) }
    return ID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// CanonicalID constructs a canonical id from public key bytes.
// The format is: pk:<alg>:<base64url-nopad(pubkey)>
func CanonicalID(alg string, pub []byte) ID {
    alg = strings.ToLower(strings.TrimSpace(alg))
    enc := base64.RawURLEncoding.EncodeToString(pub)
    return ID("pk:" + alg + ":" + enc)
}
