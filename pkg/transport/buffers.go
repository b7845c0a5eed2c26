package transport

import (
    "io"
    "net"
)

// MutableBuffers is a scatter sequence filled by read operations. The byte
// ranges must stay valid until the operation (or its callback) completes.
type MutableBuffers [][]byte

// ConstBuffers is a gather sequence drained by write operations.
type ConstBuffers [][]byte

// Len returns the total capacity of the sequence.
func (b MutableBuffers) Len() int {
    n := 0
    for _, p := range b { n += len(p) }
    return n
}

// Fill copies src across the sequence in order and returns the bytes copied.
func (b MutableBuffers) Fill(src []byte) int {
    n := 0
    for _, p := range b {
        if len(src) == 0 { break }
        c := copy(p, src)
        src = src[c:]
        n += c
    }
    return n
}

// Len returns the total size of the sequence.
func (b ConstBuffers) Len() int {
    n := 0
    for _, p := range b { n += len(p) }
    return n
}

// Bytes returns the sequence flattened into one slice.
func (b ConstBuffers) Bytes() []byte {
    out := make([]byte, 0, b.Len())
    for _, p := range b { out = append(out, p...) }
    return out
}

// Buffer wraps a single slice as a mutable sequence.
func Buffer(p []byte) MutableBuffers { return MutableBuffers{p} }

// ConstBuffer wraps a single slice as a const sequence.
func ConstBuffer(p []byte) ConstBuffers { return ConstBuffers{p} }

// ReadSomeFrom performs one read_some over r: it reads into the first
// non-empty buffer and returns as soon as at least one byte arrived. An empty
// sequence returns (0, nil) without touching r.
func ReadSomeFrom(r io.Reader, bufs MutableBuffers) (int, error) {
    var dst []byte
    for _, p := range bufs {
        if len(p) > 0 { dst = p; break }
    }
    if dst == nil { return 0, nil }
    for {
        n, err := r.Read(dst)
        if n > 0 { return n, nil }
        if err != nil { return 0, err }
    }
}

// WriteSomeTo gathers bufs into w. net.Buffers uses writev where the writer
// supports it.
func WriteSomeTo(w io.Writer, bufs ConstBuffers) (int, error) {
    if bufs.Len() == 0 { return 0, nil }
    nb := make(net.Buffers, 0, len(bufs))
    for _, p := range bufs {
        if len(p) > 0 { nb = append(nb, p) }
    }
    n, err := nb.WriteTo(w)
    if n > 0 && err != nil {
        // partial transfer is a success; the error resurfaces on the next write
        return int(n), nil
    }
    return int(n), err
}
