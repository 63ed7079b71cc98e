// internal/framing/framing.go

// Package framing holds byte-level helpers shared by protocol dialects:
// start/end delimited frames and the small checksums field devices use.
package framing

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTooLong is returned when a response exceeds MaxResponse bytes
	// without a terminator.
	ErrTooLong = errors.New("framing: response too long")
)

// Delimited describes an ASCII-style dialect: requests are wrapped in
// Start/End bytes, responses run up to and including Terminator.
type Delimited struct {
	Start       byte
	End         byte
	Terminator  byte
	MaxResponse int
}

// WriteFrame writes Start, each body segment in order, then End.
func (d Delimited) WriteFrame(w io.Writer, body ...[]byte) error {
	buf := make([]byte, 0, 2+totalLen(body))
	buf = append(buf, d.Start)
	for _, b := range body {
		buf = append(buf, b...)
	}
	buf = append(buf, d.End)
	_, err := w.Write(buf)
	return err
}

// ReadResponse reads one response including its terminator. It reads a byte
// at a time so nothing past the terminator is consumed.
func (d Delimited) ReadResponse(r io.Reader) ([]byte, error) {
	br := byteReader(r)
	var out []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(out) > 0 {
				return out, io.ErrUnexpectedEOF
			}
			return out, err
		}
		out = append(out, b)
		if b == d.Terminator {
			return out, nil
		}
		if d.MaxResponse > 0 && len(out) > d.MaxResponse {
			return out, fmt.Errorf("%w: %d bytes", ErrTooLong, len(out))
		}
	}
}

// Sum7 is the 7-bit additive checksum used by Cohu-style binary frames:
// 0x80 plus the byte sum modulo 0x80.
func Sum7(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return 0x80 + sum%0x80
}

// XOR folds b with exclusive-or.
func XOR(b []byte) byte {
	var x byte
	for _, v := range b {
		x ^= v
	}
	return x
}

func totalLen(parts [][]byte) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}

func byteReader(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &singleByteReader{r: r}
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(s.r, s.buf[:]); err != nil {
		return 0, err
	}
	return s.buf[0], nil
}
