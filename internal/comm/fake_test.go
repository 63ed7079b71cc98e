// internal/comm/fake_test.go
package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// fakeMessenger is an in-memory Messenger. Reads fail with a deadline error
// while readTimeouts > 0; opens fail while openErrs > 0.
type fakeMessenger struct {
	mu           sync.Mutex
	state        State
	out          bytes.Buffer
	in           bytes.Buffer
	readTimeouts int
	openErrs     int
	linkDown     bool
	opens        int
	drains       int
	closes       int
}

func (f *fakeMessenger) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateOpen {
		return nil
	}
	f.opens++
	if f.openErrs > 0 {
		f.openErrs--
		if f.linkDown {
			return Wrap(KindLinkDown, "open", io.ErrClosedPipe)
		}
		return Wrap(KindTransportClosed, "open", io.ErrClosedPipe)
	}
	f.state = StateOpen
	return nil
}

func (f *fakeMessenger) Output(*Controller) (io.Writer, error) { return &f.out, nil }

func (f *fakeMessenger) Input(*Controller) (io.Reader, error) { return fakeReader{f}, nil }

func (f *fakeMessenger) Flush() error { return nil }

func (f *fakeMessenger) Drain() error {
	f.mu.Lock()
	f.drains++
	f.in.Reset()
	f.mu.Unlock()
	return nil
}

func (f *fakeMessenger) Fail(err error) error {
	k := KindOf(err)
	var ce *Error
	if !errors.As(err, &ce) {
		err = &Error{Kind: k, Err: err}
	}
	if reopen(k) {
		_ = f.Close()
	}
	return err
}

func (f *fakeMessenger) Close() error {
	f.mu.Lock()
	f.closes++
	f.state = StateClosed
	f.mu.Unlock()
	return nil
}

func (f *fakeMessenger) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakeReader struct{ f *fakeMessenger }

func (r fakeReader) Read(p []byte) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.readTimeouts > 0 {
		r.f.readTimeouts--
		return 0, os.ErrDeadlineExceeded
	}
	if len(p) > 0 {
		p[0] = 0x06
		return 1, nil
	}
	return 0, nil
}

// ackProp writes one request byte and expects one ack byte back.
type ackProp struct {
	name      string
	decodeErr error
	encoded   int
	decoded   bool
}

func (p *ackProp) String() string { return p.name }

func (p *ackProp) EncodeQuery(c *Controller, w io.Writer) error {
	p.encoded++
	_, err := w.Write([]byte{byte(c.Drop), 'Q'})
	return err
}

func (p *ackProp) DecodeQuery(c *Controller, r io.Reader) error {
	if p.decodeErr != nil {
		return p.decodeErr
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	if b[0] != 0x06 {
		return Errorf(KindMalformed, "ack %#x", b[0])
	}
	p.decoded = true
	return nil
}

func (p *ackProp) EncodeStore(c *Controller, w io.Writer) error {
	p.encoded++
	_, err := w.Write([]byte{byte(c.Drop), 'S'})
	return err
}

func (p *ackProp) DecodeStore(c *Controller, r io.Reader) error {
	return p.DecodeQuery(c, r)
}

// queryPhase queries a single ackProp and ends.
func queryPhase(p *ackProp) Phase {
	return func(ctx context.Context, msg *Message) (Phase, error) {
		msg.Add(p)
		if err := msg.QueryProps(); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func ctl(name string, drop int) *Controller {
	return &Controller{Name: name, Link: "test", Drop: drop}
}

func opName(i int) string { return fmt.Sprintf("op%d", i) }
