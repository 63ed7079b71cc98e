// internal/comm/transport.go
package comm

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/goburrow/serial"
)

// Dialer opens the physical transport of a link.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return f(ctx) }

// TCPDialer connects to a socket endpoint ("host:port").
type TCPDialer struct {
	Address string
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if d.Address == "" {
		return nil, errors.New("comm: tcp address required")
	}
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, "tcp", d.Address)
}

// SerialDialer opens a serial line. Reads on the port time out after
// Config.Timeout and return serial.ErrTimeout.
type SerialDialer struct {
	Config serial.Config
}

func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if d.Config.Address == "" {
		return nil, errors.New("comm: serial device required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := d.Config
	return serial.Open(&cfg)
}
