package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout of one frame:
//
//	0 ..3  Length u32 big-endian, counts the tag byte plus the payload
//	4      Type   u8
//	5 ..   Payload (Length-1 bytes)
const frameHeaderSize = 5

// DefaultMaxFrameBytes bounds a frame when the caller does not configure one.
const DefaultMaxFrameBytes = 16 << 20

// ErrIncomplete is returned by Decoder.Next when the buffered bytes do not yet
// hold a whole frame. It is recoverable: push more bytes and try again.
var ErrIncomplete = errors.New("protocol: incomplete frame")

// MalformedError marks input that can never parse into a valid frame or
// message. It is fatal to the session; the stream offset is lost.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: malformed: %s: %v", e.Reason, e.Err)
	}
	return "protocol: malformed: " + e.Reason
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Frame is one decoded unit of the wire protocol: a type tag and its payload.
type Frame struct {
	Type    uint8
	Payload []byte
}

// AppendFrame encodes f onto dst and returns the extended slice.
func AppendFrame(dst []byte, f Frame, maxFrame int) ([]byte, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	if len(f.Payload)+1 > maxFrame {
		return dst, &MalformedError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit %d", len(f.Payload)+1, maxFrame)}
	}
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(f.Payload)+1))
	hdr[4] = f.Type
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...), nil
}

// EncodeFrame returns f as a fresh byte slice.
func EncodeFrame(f Frame, maxFrame int) ([]byte, error) {
	return AppendFrame(make([]byte, 0, frameHeaderSize+len(f.Payload)), f, maxFrame)
}

// Decoder reassembles frames from a byte stream delivered in arbitrary chunk
// sizes. Partial frames are buffered across Push calls; decoding resumes where
// the previous Next left off. Not safe for concurrent use.
type Decoder struct {
	buf      bytes.Buffer
	maxFrame int
}

// NewDecoder builds a Decoder with the given frame size limit.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{maxFrame: maxFrame}
}

// Push appends raw bytes read from the transport.
func (d *Decoder) Push(p []byte) { d.buf.Write(p) }

// Buffered reports how many bytes are waiting to be decoded.
func (d *Decoder) Buffered() int { return d.buf.Len() }

// Next returns the next complete frame. It returns ErrIncomplete when more
// bytes are needed and a *MalformedError when the stream can no longer be
// parsed (bad tag, zero or oversized length).
func (d *Decoder) Next() (Frame, error) {
	data := d.buf.Bytes()
	if len(data) < frameHeaderSize {
		return Frame{}, ErrIncomplete
	}
	length := binary.BigEndian.Uint32(data[0:4])
	if length == 0 {
		return Frame{}, &MalformedError{Reason: "zero-length frame"}
	}
	if int(length) > d.maxFrame {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit %d", length, d.maxFrame)}
	}
	tag := data[4]
	if tag == MsgUnknown || tag >= msgMax {
		return Frame{}, &MalformedError{Reason: fmt.Sprintf("unknown message tag %d", tag)}
	}
	total := 4 + int(length)
	if len(data) < total {
		return Frame{}, ErrIncomplete
	}
	payload := make([]byte, int(length)-1)
	copy(payload, data[frameHeaderSize:total])
	d.buf.Next(total)
	return Frame{Type: tag, Payload: payload}, nil
}
