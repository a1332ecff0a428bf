package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteFrame writes a uint32-little-endian length prefix followed by
// payload to w. Used by the request/response actuation protocol (§6)
// to frame messages on a libp2p stream.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads a length-prefixed frame written by WriteFrame. It
// rejects frames larger than MaxFrameLen to bound allocation from a
// malformed or hostile peer.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameLen {
		return nil, fmt.Errorf("wire: frame length %d exceeds max %d", n, MaxFrameLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
