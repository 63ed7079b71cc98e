// internal/comm/errors_test.go
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/goburrow/serial"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"explicit", Errorf(KindRejected, "nak"), KindRejected},
		{"wrapped explicit", fmt.Errorf("phase: %w", Errorf(KindMalformed, "crc")), KindMalformed},
		{"bare kind", KindUnsupported, KindUnsupported},
		{"deadline", os.ErrDeadlineExceeded, KindTimeout},
		{"serial timeout", serial.ErrTimeout, KindTimeout},
		{"eof", io.EOF, KindTransportClosed},
		{"short read", io.ErrUnexpectedEOF, KindTransportClosed},
		{"closed", net.ErrClosed, KindTransportClosed},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, KindTransportClosed},
		{"other", errors.New("boom"), KindError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrorIsKind(t *testing.T) {
	err := Wrap(KindTimeout, "read", os.ErrDeadlineExceeded)
	assert.ErrorIs(t, err, KindTimeout)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, KindMalformed)
	assert.Equal(t, "read: timeout: "+os.ErrDeadlineExceeded.Error(), err.Error())
	assert.Nil(t, Wrap(KindTimeout, "read", nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(KindTimeout))
	assert.True(t, Retryable(KindTransportClosed))
	for _, k := range []Kind{KindMalformed, KindRejected, KindUnsupported, KindLinkDown, KindError} {
		assert.False(t, Retryable(k), k)
		assert.False(t, reopen(k), k)
	}
}
