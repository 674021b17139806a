package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// EncodePayload applies the named payload encoding to raw data before it is
// placed in an execution message. Datasets shipped by the coordinator are
// compressed and base64-wrapped; small payloads usually stay identity.
func EncodePayload(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case "", EncodingIdentity:
		return data, nil
	case EncodingGzipBase64:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress payload: %w", err)
		}
		out := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
		base64.StdEncoding.Encode(out, buf.Bytes())
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload encoding %q", encoding)
	}
}

// DecodePayload reverses EncodePayload. A payload that does not round-trip its
// declared encoding is malformed input for the adapter, not a protocol fault.
func DecodePayload(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case "", EncodingIdentity:
		return data, nil
	case EncodingGzipBase64:
		raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(raw, data)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw[:n]))
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompress payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload encoding %q", encoding)
	}
}
