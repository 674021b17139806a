package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Sybl-ml/mallus/pkg/protocol/codec"
)

func TestFrameRoundtrip(t *testing.T) {
	f := Frame{Type: MsgExecutionRequest, Payload: []byte(`{"id":7}`)}
	wire, err := EncodeFrame(f, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := binary.BigEndian.Uint32(wire[0:4]); got != uint32(len(f.Payload)+1) {
		t.Fatalf("length field = %d, want %d", got, len(f.Payload)+1)
	}
	if wire[4] != MsgExecutionRequest {
		t.Fatalf("tag byte = %d", wire[4])
	}

	d := NewDecoder(0)
	d.Push(wire)
	got, err := d.Next()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != f.Type || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("frame differs: %#v vs %#v", got, f)
	}
	if d.Buffered() != 0 {
		t.Fatalf("leftover bytes: %d", d.Buffered())
	}
}

func TestDecoderResumesAcrossChunks(t *testing.T) {
	var wire []byte
	frames := []Frame{
		{Type: MsgHello, Payload: []byte(`{"seq":1}`)},
		{Type: MsgHeartbeat, Payload: []byte(`{}`)},
		{Type: MsgGoodbye, Payload: []byte(`{"reason":"done"}`)},
	}
	for _, f := range frames {
		var err error
		wire, err = AppendFrame(wire, f, 0)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Feed one byte at a time; every prefix must yield ErrIncomplete until a
	// whole frame is buffered.
	d := NewDecoder(0)
	var got []Frame
	for _, b := range wire {
		d.Push([]byte{b})
		for {
			f, err := d.Next()
			if errors.Is(err, ErrIncomplete) {
				break
			}
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			got = append(got, f)
		}
	}
	if len(got) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(frames))
	}
	for i := range frames {
		if got[i].Type != frames[i].Type || !bytes.Equal(got[i].Payload, frames[i].Payload) {
			t.Fatalf("frame %d differs: %#v vs %#v", i, got[i], frames[i])
		}
	}
}

func TestDecoderRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		wire []byte
	}{
		{"zero length", []byte{0, 0, 0, 0, 0}},
		{"unknown tag", []byte{0, 0, 0, 1, byte(msgMax)}},
		{"tag zero", []byte{0, 0, 0, 1, MsgUnknown}},
		{"oversized", func() []byte {
			b := make([]byte, 5)
			binary.BigEndian.PutUint32(b, 1<<30)
			b[4] = MsgHello
			return b
		}()},
	}
	for _, tc := range cases {
		d := NewDecoder(1024)
		d.Push(tc.wire)
		_, err := d.Next()
		var me *MalformedError
		if !errors.As(err, &me) {
			t.Fatalf("%s: err = %v, want MalformedError", tc.name, err)
		}
	}
}

func TestEncodeFrameRespectsLimit(t *testing.T) {
	_, err := EncodeFrame(Frame{Type: MsgExecutionResult, Payload: make([]byte, 64)}, 16)
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want MalformedError", err)
	}
}

func TestMessageRoundtrip(t *testing.T) {
	c := codec.JSON()
	req := &ExecutionRequest{
		ID:             42,
		DeadlineUnixMS: 1700000000000,
		Encoding:       EncodingIdentity,
		Meta:           map[string]string{"prediction_type": "regression"},
		Input:          []byte("a,b\n1,2\n"),
	}
	Stamp(req, 9)

	f, err := Marshal(c, req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m, err := Unmarshal(c, f)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := m.(*ExecutionRequest)
	if !ok {
		t.Fatalf("decoded %T", m)
	}
	if got.Sequence() != 9 || got.ID != 42 || !bytes.Equal(got.Input, req.Input) {
		t.Fatalf("request differs: %#v", got)
	}
	if got.Meta["prediction_type"] != "regression" {
		t.Fatalf("meta lost: %#v", got.Meta)
	}
}

func TestUnmarshalBadPayload(t *testing.T) {
	_, err := Unmarshal(codec.JSON(), Frame{Type: MsgHelloAck, Payload: []byte("{")})
	var me *MalformedError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want MalformedError", err)
	}
}

func TestPayloadEncodingRoundtrip(t *testing.T) {
	data := bytes.Repeat([]byte("record_id,weight\n1,0.5\n"), 64)
	enc, err := EncodePayload(EncodingGzipBase64, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Equal(enc, data) {
		t.Fatalf("payload not transformed")
	}
	dec, err := DecodePayload(EncodingGzipBase64, enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, data) {
		t.Fatalf("roundtrip mismatch")
	}

	if _, err := DecodePayload("bz2", data); err == nil {
		t.Fatalf("expected error for unsupported encoding")
	}
	if _, err := DecodePayload(EncodingGzipBase64, []byte("!!not base64!!")); err == nil {
		t.Fatalf("expected error for corrupt payload")
	}
}
