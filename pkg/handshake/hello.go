// Package handshake builds and verifies the signed hello messages exchanged
// by the hello security layer.
package handshake

import (
    "bytes"
    "crypto/ed25519"
    "crypto/rand"
    "encoding/base64"
    "errors"
    "fmt"
    "time"

    "google.golang.org/protobuf/types/known/structpb"

    "ttsock/pkg/codec"
    "ttsock/pkg/crypto/sign"
    "ttsock/pkg/transport"
)

const (
    Version   = 1
    AlgEd25519 = "ed25519"
    NonceSize = 16
    DefaultMaxSkew = 5 * time.Minute
)

var (
    ErrBadHello    = errors.New("handshake: malformed hello")
    ErrBadSig      = errors.New("handshake: hello signature invalid")
    ErrStale       = errors.New("handshake: hello timestamp out of bounds")
    ErrPeerMismatch = errors.New("handshake: unexpected peer")
)

// Hello binds a public key to a node name, the sender's role and a fresh
// nonce. An answering hello also echoes the nonce it answers, so a recorded
// reply cannot be replayed against a new client.
type Hello struct {
    Version   uint32 `json:"ver,omitempty"`
    Role      string `json:"role"`
    NodeName  string `json:"node_name,omitempty"`
    Alg       string `json:"alg"`
    PubKey    []byte `json:"pubkey"`
    Nonce     []byte `json:"nonce"`
    PeerNonce []byte `json:"peer_nonce,omitempty"`
    Timestamp int64  `json:"ts_unix_ms"`
    Sig       []byte `json:"sig"`
}

func (h Hello) transcript() []byte {
    return sign.HelloTranscript(h.Role, h.Alg, h.PubKey, h.Nonce, h.PeerNonce, h.Timestamp, h.NodeName)
}

// BuildHello constructs and signs a hello for role. peerNonce is the nonce of
// the hello being answered (nil when initiating).
func BuildHello(role transport.HandshakeRole, nodeName string, priv ed25519.PrivateKey, peerNonce []byte) (Hello, transport.ID, error) {
    if len(priv) != ed25519.PrivateKeySize { return Hello{}, "", sign.ErrBadKey }
    pub := priv.Public().(ed25519.PublicKey)
    nonce := make([]byte, NonceSize)
    if _, err := rand.Read(nonce); err != nil { return Hello{}, "", err }
    h := Hello{
        Version:   Version,
        Role:      role.String(),
        NodeName:  nodeName,
        Alg:       AlgEd25519,
        PubKey:    append([]byte(nil), pub...),
        Nonce:     nonce,
        PeerNonce: append([]byte(nil), peerNonce...),
        Timestamp: time.Now().UnixMilli(),
    }
    sig, err := sign.SignEd25519(priv, h.transcript())
    if err != nil { return Hello{}, "", err }
    h.Sig = sig
    return h, transport.CanonicalID(AlgEd25519, pub), nil
}

// VerifyOptions constrain VerifyHello.
type VerifyOptions struct {
    // Role the sender must claim.
    Role transport.HandshakeRole
    // PeerNonce the hello must echo; nil when verifying an initiating hello.
    PeerNonce []byte
    // MaxSkew bounds the timestamp distance; defaults to DefaultMaxSkew.
    MaxSkew time.Duration
    // Expect pins the sender's canonical id when non-empty.
    Expect transport.ID
}

// VerifyHello checks the hello's signature, freshness and bindings and returns
// the sender's canonical id.
func VerifyHello(h Hello, opts VerifyOptions) (transport.ID, error) {
    if h.Version != Version { return "", fmt.Errorf("%w: version %d", ErrBadHello, h.Version) }
    if h.Alg != AlgEd25519 { return "", fmt.Errorf("%w: unsupported alg %q", ErrBadHello, h.Alg) }
    if len(h.PubKey) != ed25519.PublicKeySize { return "", fmt.Errorf("%w: bad pubkey length", ErrBadHello) }
    if len(h.Sig) != ed25519.SignatureSize { return "", fmt.Errorf("%w: bad signature length", ErrBadHello) }
    if len(h.Nonce) != NonceSize { return "", fmt.Errorf("%w: bad nonce length", ErrBadHello) }
    if h.Role != opts.Role.String() { return "", fmt.Errorf("%w: role %q, want %q", ErrBadHello, h.Role, opts.Role) }
    if !bytes.Equal(h.PeerNonce, opts.PeerNonce) { return "", fmt.Errorf("%w: nonce binding mismatch", ErrBadHello) }
    maxSkew := opts.MaxSkew
    if maxSkew <= 0 { maxSkew = DefaultMaxSkew }
    now := time.Now().UnixMilli()
    if dt := now - h.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
        return "", ErrStale
    }
    if !sign.VerifyEd25519(ed25519.PublicKey(h.PubKey), h.transcript(), h.Sig) {
        return "", ErrBadSig
    }
    id := transport.CanonicalID(AlgEd25519, h.PubKey)
    if opts.Expect != "" && id != opts.Expect {
        return "", fmt.Errorf("%w: got %s, want %s", ErrPeerMismatch, id, opts.Expect)
    }
    return id, nil
}

// EncodeHello marshals h with c. Protobuf codecs carry the hello as a
// google.protobuf.Struct.
func EncodeHello(c codec.Codec, h Hello) ([]byte, error) {
    if c.ContentType() != codec.ContentProto { return c.Marshal(h) }
    b64 := base64.RawStdEncoding
    s, err := structpb.NewStruct(map[string]any{
        "ver":        float64(h.Version),
        "role":       h.Role,
        "node_name":  h.NodeName,
        "alg":        h.Alg,
        "pubkey":     b64.EncodeToString(h.PubKey),
        "nonce":      b64.EncodeToString(h.Nonce),
        "peer_nonce": b64.EncodeToString(h.PeerNonce),
        "ts_unix_ms": float64(h.Timestamp),
        "sig":        b64.EncodeToString(h.Sig),
    })
    if err != nil { return nil, err }
    return c.Marshal(s)
}

// DecodeHello is the inverse of EncodeHello.
func DecodeHello(c codec.Codec, data []byte) (Hello, error) {
    var h Hello
    if c.ContentType() != codec.ContentProto {
        if err := c.Unmarshal(data, &h); err != nil { return Hello{}, fmt.Errorf("%w: %v", ErrBadHello, err) }
        return h, nil
    }
    var s structpb.Struct
    if err := c.Unmarshal(data, &s); err != nil { return Hello{}, fmt.Errorf("%w: %v", ErrBadHello, err) }
    f := s.GetFields()
    b64 := base64.RawStdEncoding
    var err error
    bytesField := func(k string) []byte {
        if err != nil { return nil }
        var b []byte
        b, err = b64.DecodeString(f[k].GetStringValue())
        if len(b) == 0 { return nil }
        return b
    }
    h.Version = uint32(f["ver"].GetNumberValue())
    h.Role = f["role"].GetStringValue()
    h.NodeName = f["node_name"].GetStringValue()
    h.Alg = f["alg"].GetStringValue()
    h.Timestamp = int64(f["ts_unix_ms"].GetNumberValue())
    h.PubKey = bytesField("pubkey")
    h.Nonce = bytesField("nonce")
    h.PeerNonce = bytesField("peer_nonce")
    h.Sig = bytesField("sig")
    if err != nil { return Hello{}, fmt.Errorf("%w: %v", ErrBadHello, err) }
    return h, nil
}
