// Package framing implements the wire envelope described in spec §3/§6:
// two magic bytes, a little-endian u32 length, and a payload consisting
// of an 8-byte request id followed by the CBOR-tagged encoding of a
// Message. No partial frame is ever exposed to the caller.
package framing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/ehrlich-b/omnish/internal/errkind"
)

var magic = [2]byte{'O', 'S'}

// MaxFrameLen bounds the length prefix to guard against a corrupt or
// hostile peer requesting an unbounded allocation.
const MaxFrameLen = 64 * 1024 * 1024 // 64 MiB

// Frame is the decoded unit exchanged over an RPC connection.
type Frame struct {
	RequestID uint64
	Payload   Message
}

// Encode serializes f into the wire form: magic, length, request id,
// CBOR-encoded payload.
func Encode(f Frame) ([]byte, error) {
	body, err := cbor.Marshal(f.Payload)
	if err != nil {
		return nil, errkind.New(errkind.Protocol, "framing.Encode", err)
	}

	payload := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint64(payload[:8], f.RequestID)
	copy(payload[8:], body)

	if len(payload) > MaxFrameLen {
		return nil, errkind.New(errkind.Protocol, "framing.Encode", fmt.Errorf("frame too large: %d bytes", len(payload)))
	}

	out := make([]byte, 0, 2+4+len(payload))
	out = append(out, magic[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out, nil
}

// WriteFrame encodes f and writes it to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return errkind.New(errkind.Io, "framing.WriteFrame", err)
	}
	return nil
}

// DecodeFrame reads exactly one frame from r: two magic bytes, a u32 LE
// length, then exactly that many payload bytes. It never returns a
// partial frame — any short read surfaces as an Io or Eof error.
func DecodeFrame(r io.Reader) (Frame, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, errkind.New(errkind.Io, "framing.DecodeFrame", err)
	}

	if !bytes.Equal(hdr[:2], magic[:]) {
		return Frame{}, errkind.New(errkind.Protocol, "framing.DecodeFrame", fmt.Errorf("bad magic %x", hdr[:2]))
	}

	length := binary.LittleEndian.Uint32(hdr[2:6])
	if length > MaxFrameLen {
		return Frame{}, errkind.New(errkind.Protocol, "framing.DecodeFrame", fmt.Errorf("frame length %d exceeds max %d", length, MaxFrameLen))
	}
	if length < 8 {
		return Frame{}, errkind.New(errkind.Protocol, "framing.DecodeFrame", fmt.Errorf("frame length %d too small for request id", length))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, errkind.New(errkind.Io, "framing.DecodeFrame", err)
	}

	requestID := binary.LittleEndian.Uint64(payload[:8])
	var msg Message
	if err := cbor.Unmarshal(payload[8:], &msg); err != nil {
		return Frame{}, errkind.New(errkind.Protocol, "framing.DecodeFrame", err)
	}

	return Frame{RequestID: requestID, Payload: msg}, nil
}
