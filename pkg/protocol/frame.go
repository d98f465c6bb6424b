package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// ProtocolVersion is the wire version this build speaks.
	ProtocolVersion = 1

	// MaxHeaderSize caps the encoded frame header (4 KB).
	MaxHeaderSize = 4 * 1024

	// MaxPayloadSize caps a single frame payload (1 MB).
	MaxPayloadSize = 1024 * 1024
)

// Frame header fields. The header is itself encoded with the session codec:
// the json codec carries content-length plus content-encoding, the compact
// codec only content-length (its grammar defines its own escaping).
const (
	headerContentLength   = "content-length"
	headerContentEncoding = "content-encoding"

	contentEncodingUTF8 = "utf-8"
)

var (
	// ErrVersionMismatch means the peer speaks a different protocol
	// version. No part of the frame past the version byte is interpreted.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	ErrHeaderTooLarge  = errors.New("frame header exceeds maximum size")
	ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")
)

// EncodeFrame wraps an already codec-encoded payload in a frame:
// [version:1][header-length:2 BE][header][payload].
func EncodeFrame(codec Codec, version uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	fields := map[string]Value{
		headerContentLength: I(int64(len(payload))),
	}
	if codec.Name() == "json" {
		fields[headerContentEncoding] = S(contentEncodingUTF8)
	}
	header, err := codec.Encode(M(fields))
	if err != nil {
		return nil, err
	}
	if len(header) > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	out := make([]byte, 0, 3+len(header)+len(payload))
	out = append(out, version)
	out = binary.BigEndian.AppendUint16(out, uint16(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

// EncodeValue codec-encodes v and frames it in one step.
func EncodeValue(codec Codec, version uint8, v Value) ([]byte, error) {
	payload, err := codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(codec, version, payload)
}

// WriteValue frames v and writes it to w.
func WriteValue(w io.Writer, codec Codec, version uint8, v Value) error {
	frame, err := EncodeValue(codec, version, v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// FrameReader reassembles frames from an arbitrarily chunked byte stream.
// Feed appends raw bytes; Next returns one complete payload at a time,
// retaining any partial trailing bytes for later reads. A FrameReader is
// bound to one connection and must be discarded with it.
type FrameReader struct {
	codec   Codec
	version uint8

	buf        []byte
	headerLen  int // -1 until the fixed prefix has been read
	payloadLen int // -1 until the header has been decoded
}

// NewFrameReader returns a FrameReader accepting only the given version.
func NewFrameReader(codec Codec, version uint8) *FrameReader {
	return &FrameReader{
		codec:      codec,
		version:    version,
		headerLen:  -1,
		payloadLen: -1,
	}
}

// Feed appends raw bytes from the connection.
func (r *FrameReader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered returns the number of unconsumed bytes held by the reader.
func (r *FrameReader) Buffered() int { return len(r.buf) }

// Next returns the next complete frame payload, or nil if more bytes are
// needed. Any returned error is fatal: the stream is unsynchronized and
// the connection must be closed.
func (r *FrameReader) Next() ([]byte, error) {
	if r.headerLen < 0 {
		if len(r.buf) == 0 {
			return nil, nil
		}
		// The version byte is checked before anything else is touched.
		if r.buf[0] != r.version {
			return nil, ErrVersionMismatch
		}
		if len(r.buf) < 3 {
			return nil, nil
		}
		hlen := int(binary.BigEndian.Uint16(r.buf[1:3]))
		if hlen > MaxHeaderSize {
			return nil, ErrHeaderTooLarge
		}
		r.headerLen = hlen
	}

	if r.payloadLen < 0 {
		if len(r.buf) < 3+r.headerLen {
			return nil, nil
		}
		header, err := r.codec.Decode(r.buf[3 : 3+r.headerLen])
		if err != nil {
			return nil, err
		}
		plen, ok := header.GetInt(headerContentLength)
		if !ok || plen < 0 {
			return nil, decodeErrf(r.codec.Name(), "header missing %s", headerContentLength)
		}
		if plen > MaxPayloadSize {
			return nil, ErrPayloadTooLarge
		}
		if enc, ok := header.GetString(headerContentEncoding); ok && enc != contentEncodingUTF8 {
			return nil, decodeErrf(r.codec.Name(), "unsupported content encoding %q", enc)
		}
		r.payloadLen = int(plen)
	}

	total := 3 + r.headerLen + r.payloadLen
	if len(r.buf) < total {
		return nil, nil
	}

	payload := make([]byte, r.payloadLen)
	copy(payload, r.buf[3+r.headerLen:total])
	r.buf = r.buf[total:]
	r.headerLen = -1
	r.payloadLen = -1
	return payload, nil
}
