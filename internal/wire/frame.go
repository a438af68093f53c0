package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedVersion is returned by ReadFrame when the frame's version
// byte is newer than this build understands.
var ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")

// maxFrameBytes bounds a single frame's body to guard against a corrupt or
// malicious length prefix driving an unbounded allocation.
const maxFrameBytes = 64 << 20

// EncodeBody renders msg as a 1-byte protocol version followed by its
// JSON encoding. WriteFrame prefixes this with a length; the gRPC codec
// sends it as-is, since HTTP/2 already delimits message boundaries.
func EncodeBody(msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal frame: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, ProtocolVersion)
	out = append(out, body...)
	return out, nil
}

// DecodeBody parses a buffer produced by EncodeBody into v.
func DecodeBody(buf []byte, v any) error {
	if len(buf) == 0 {
		return fmt.Errorf("wire: empty frame")
	}
	version := buf[0]
	if version > ProtocolVersion {
		return fmt.Errorf("%w: got %d, max understood %d", ErrUnsupportedVersion, version, ProtocolVersion)
	}
	if err := json.Unmarshal(buf[1:], v); err != nil {
		return fmt.Errorf("wire: unmarshal frame body: %w", err)
	}
	return nil
}

// WriteFrame writes a length-prefixed, versioned frame: a 4-byte
// big-endian body length, a 1-byte protocol version, then the JSON
// encoding of msg.
func WriteFrame(w io.Writer, msg any) error {
	body, err := EncodeBody(msg)
	if err != nil {
		return err
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and JSON-decodes its body into v, a pointer to
// one of this package's message types.
func ReadFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("wire: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(header)
	if n == 0 {
		return fmt.Errorf("wire: empty frame")
	}
	if n > maxFrameBytes {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("wire: read frame body: %w", err)
	}
	return DecodeBody(buf, v)
}
