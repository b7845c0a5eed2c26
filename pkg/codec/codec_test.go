package codec

import (
    "testing"

    "google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
    c := JSON()
    in := map[string]any{"a": 1, "b": "x"}
    b, err := c.Marshal(in)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out map[string]any
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out["a"].(float64) != 1 || out["b"].(string) != "x" {
        t.Fatalf("roundtrip mismatch: %#v", out)
    }
}

func TestCBORDeterministic(t *testing.T) {
    c, err := CBOR()
    if err != nil { t.Fatalf("new cbor: %v", err) }
    a, err := c.Marshal(map[string]any{"z": 1, "a": 2, "m": []byte{1, 2}})
    if err != nil { t.Fatalf("marshal: %v", err) }
    b, err := c.Marshal(map[string]any{"m": []byte{1, 2}, "a": 2, "z": 1})
    if err != nil { t.Fatalf("marshal: %v", err) }
    if string(a) != string(b) { t.Fatalf("canonical encoding differs: %x vs %x", a, b) }
}

func TestProtoCodecRejectsPlainValues(t *testing.T) {
    c := Proto()
    if _, err := c.Marshal(map[string]any{"k": "v"}); err == nil {
        t.Fatalf("expected error for non proto.Message")
    }
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    if err != nil { t.Fatalf("struct: %v", err) }
    b, err := c.Marshal(s)
    if err != nil { t.Fatalf("marshal: %v", err) }
    var out structpb.Struct
    if err := c.Unmarshal(b, &out); err != nil { t.Fatalf("unmarshal: %v", err) }
    if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("roundtrip mismatch") }
}

func TestByName(t *testing.T) {
    for name, want := range map[string]string{"": ContentCBOR, "CBOR": ContentCBOR, "json": ContentJSON, "protobuf": ContentProto} {
        c, err := ByName(name)
        if err != nil { t.Fatalf("ByName(%q): %v", name, err) }
        if c.ContentType() != want { t.Fatalf("ByName(%q) = %s, want %s", name, c.ContentType(), want) }
    }
    if _, err := ByName("xml"); err == nil { t.Fatalf("expected unknown codec error") }
}

func TestRegistry(t *testing.T) {
    r, err := NewRegistry()
    if err != nil { t.Fatalf("registry: %v", err) }
    for _, ct := range []string{ContentJSON, ContentCBOR, ContentProto} {
        if r.Get(ct) == nil { t.Fatalf("missing %s", ct) }
    }
    if r.Get("text/plain") != nil { t.Fatalf("unexpected codec for text/plain") }
}
