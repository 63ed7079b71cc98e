// internal/comm/commtest/commtest.go

// Package commtest provides an in-memory comm.Messenger for protocol tests.
package commtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Messenger records every flushed request and queues the reply Reply
// returns for it. A nil Reply (or nil reply) answers nothing.
type Messenger struct {
	Reply func(req []byte) []byte

	mu       sync.Mutex
	state    comm.State
	out      bytes.Buffer
	in       bytes.Buffer
	requests [][]byte
	drains   int
}

func (m *Messenger) Open(context.Context) error {
	m.mu.Lock()
	m.state = comm.StateOpen
	m.mu.Unlock()
	return nil
}

func (m *Messenger) Output(*comm.Controller) (io.Writer, error) { return &m.out, nil }

func (m *Messenger) Input(*comm.Controller) (io.Reader, error) { return &m.in, nil }

func (m *Messenger) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out.Len() == 0 {
		return nil
	}
	req := append([]byte(nil), m.out.Bytes()...)
	m.out.Reset()
	m.requests = append(m.requests, req)
	if m.Reply != nil {
		m.in.Write(m.Reply(req))
	}
	return nil
}

func (m *Messenger) Drain() error {
	m.mu.Lock()
	m.drains++
	m.in.Reset()
	m.mu.Unlock()
	return nil
}

func (m *Messenger) Fail(err error) error {
	var ce *comm.Error
	if err != nil && !errors.As(err, &ce) {
		err = &comm.Error{Kind: comm.KindOf(err), Err: err}
	}
	return err
}

func (m *Messenger) Close() error {
	m.mu.Lock()
	m.state = comm.StateClosed
	m.mu.Unlock()
	return nil
}

func (m *Messenger) State() comm.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Requests returns a copy of every flushed request, oldest first.
func (m *Messenger) Requests() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.requests...)
}

// Run submits op to a fresh scheduler over m and waits for it to end.
func Run(ctx context.Context, m comm.Messenger, op *comm.Operation) error {
	s := comm.NewScheduler(comm.SchedulerConfig{Link: "test"}, m, nil)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	if err := s.Submit(op); err != nil {
		return err
	}
	return op.Wait(ctx)
}
