package hellosock

import (
    "encoding/binary"
    "errors"
    "fmt"
    "io"
)

// Frame layout: [type:1][len:4 little-endian][payload:len].
const (
    frameHello byte = 1
    frameData  byte = 2
    frameBye   byte = 3

    headerSize = 5
    // MaxPayload caps the payload of a data frame written by WriteSome.
    MaxPayload = 64 * 1024
    // maxInbound bounds any frame accepted from the peer.
    maxInbound = 1 << 24
)

var errFrame = errors.New("hellosock: malformed frame")

func appendFrame(dst []byte, typ byte, payload []byte) []byte {
    var hdr [headerSize]byte
    hdr[0] = typ
    binary.LittleEndian.PutUint32(hdr[1:], uint32(len(payload)))
    dst = append(dst, hdr[:]...)
    return append(dst, payload...)
}

// readFrame reads one whole frame. Used during negotiation only; the data
// path goes through the resumable reader on Socket.
func readFrame(r io.Reader) (byte, []byte, error) {
    var hdr [headerSize]byte
    if _, err := io.ReadFull(r, hdr[:]); err != nil { return 0, nil, err }
    size := binary.LittleEndian.Uint32(hdr[1:])
    if size > maxInbound { return 0, nil, fmt.Errorf("%w: frame of %d bytes", errFrame, size) }
    payload := make([]byte, size)
    if _, err := io.ReadFull(r, payload); err != nil {
        if err == io.EOF { err = io.ErrUnexpectedEOF }
        return 0, nil, err
    }
    return hdr[0], payload, nil
}
