// Package codec provides the message encodings used on the wire by the
// security layers (hello frames) and by tooling.
package codec

import (
    "encoding/json"
    "fmt"
    "strings"

    cbor "github.com/fxamacker/cbor/v2"
    "google.golang.org/protobuf/proto"
)

// Codec marshals typed messages. Implementations must be deterministic so
// signed payloads re-encode identically on both peers.
type Codec interface {
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

const (
    ContentJSON  = "application/json"
    ContentCBOR  = "application/cbor"
    ContentProto = "application/x-protobuf"
)

// ByName resolves a configured codec name: cbor, json or proto.
func ByName(name string) (Codec, error) {
    switch strings.ToLower(strings.TrimSpace(name)) {
    case "", "cbor":
        return CBOR()
    case "json":
        return JSON(), nil
    case "proto", "protobuf":
        return Proto(), nil
    default:
        return nil, fmt.Errorf("codec: unknown codec %q", name)
    }
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry returns a registry preloaded with JSON, CBOR and Protobuf.
func NewRegistry() (*Registry, error) {
    r := &Registry{byType: make(map[string]Codec)}
    r.Register(JSON())
    r.Register(Proto())
    c, err := CBOR()
    if err != nil { return nil, err }
    r.Register(c)
    return r, nil
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// ---- JSON ----

type jsonCodec struct{}

// JSON returns an encoding/json codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string                { return ContentJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ---- CBOR ----

type cborCodec struct {
    enc cbor.EncMode
    dec cbor.DecMode
}

// CBOR returns a canonical (RFC 8949 core deterministic) CBOR codec.
func CBOR() (Codec, error) {
    em, err := cbor.CanonicalEncOptions().EncMode()
    if err != nil { return nil, err }
    dm, err := cbor.DecOptions{MaxArrayElements: 1024, MaxMapPairs: 1024}.DecMode()
    if err != nil { return nil, err }
    return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                { return ContentCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// ---- Protobuf ----

type protoCodec struct {
    mo proto.MarshalOptions
    uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling. Values
// must implement proto.Message.
func Proto() Codec {
    return protoCodec{mo: proto.MarshalOptions{Deterministic: true}, uo: proto.UnmarshalOptions{DiscardUnknown: true}}
}

func (p protoCodec) ContentType() string { return ContentProto }

func (p protoCodec) Marshal(v any) ([]byte, error) {
    msg, ok := v.(proto.Message)
    if !ok { return nil, fmt.Errorf("protobuf: value does not implement proto.Message: %T", v) }
    return p.mo.Marshal(msg)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
    msg, ok := v.(proto.Message)
    if !ok { return fmt.Errorf("protobuf: target does not implement proto.Message: %T", v) }
    return p.uo.Unmarshal(data, msg)
}
