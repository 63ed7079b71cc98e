// internal/comm/errors.go
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/goburrow/serial"
)

// Kind is a stable error category surfaced to operations.
// It is a string newtype, comparable, and implements error.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	KindTimeout         Kind = "timeout"
	KindMalformed       Kind = "malformed_response"
	KindRejected        Kind = "device_rejected"
	KindTransportClosed Kind = "transport_closed"
	KindUnsupported     Kind = "protocol_unsupported"

	// KindLinkDown means the transport could not be reopened; the link halts.
	KindLinkDown Kind = "link_down"

	KindError Kind = "error" // generic fallback
)

var (
	ErrWithdrawn  = errors.New("comm: operation withdrawn")
	ErrStale      = errors.New("comm: operation stale")
	ErrStopped    = errors.New("comm: scheduler stopped")
	ErrLinkHalted = errors.New("comm: link halted")
)

// Error keeps a Kind together with context and a cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against a bare Kind, so errors.Is(err, KindTimeout) works.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and an operation name to err.
// A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unsupportedf is shorthand for a ProtocolUnsupported error.
func Unsupportedf(format string, args ...any) error {
	return Errorf(KindUnsupported, format, args...)
}

// KindOf classifies err. Explicit kinds win; raw transport errors are mapped
// to Timeout or TransportClosed; anything else is KindError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, serial.ErrTimeout) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return KindTransportClosed
	}
	return KindError
}

// Retryable reports whether the scheduler retries this kind automatically.
func Retryable(k Kind) bool {
	return k == KindTimeout || k == KindTransportClosed
}

// reopen reports whether the transport should be closed and lazily reopened.
func reopen(k Kind) bool {
	return k == KindTimeout || k == KindTransportClosed
}
