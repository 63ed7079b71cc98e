// internal/comm/messenger.go
package comm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of a messenger's transport.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Messenger owns the physical transport of one link.
// It processes at most one exchange at a time; the scheduler guarantees that,
// the messenger does not lock around it.
type Messenger interface {
	// Open connects the transport if it is closed. It may block.
	Open(ctx context.Context) error
	Output(c *Controller) (io.Writer, error)
	Input(c *Controller) (io.Reader, error)
	Flush() error
	// Drain discards bytes left over from an earlier exchange.
	Drain() error
	// Fail classifies err, closes the transport when the error is
	// reopen-worthy, and returns err annotated with its Kind.
	Fail(err error) error
	Close() error
	State() State
}

// MessengerConfig tunes a StreamMessenger.
type MessengerConfig struct {
	Name string

	// ReadTimeout bounds every read on transports that support deadlines.
	ReadTimeout time.Duration

	// DrainTimeout is how long Drain waits for stray bytes.
	DrainTimeout time.Duration

	// MaxOpenFailures consecutive failed opens turn into KindLinkDown.
	// Zero means never.
	MaxOpenFailures int

	// ReopenDelay is the wait before the first reopen after a failed open.
	// It doubles per consecutive failure up to MaxReopenDelay.
	ReopenDelay    time.Duration
	MaxReopenDelay time.Duration
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// StreamMessenger is a Messenger over any byte-stream transport produced by
// a Dialer. Multi-drop addressing is carried in the frames the properties
// encode, so every controller shares the same buffered streams.
type StreamMessenger struct {
	cfg  MessengerConfig
	dial Dialer
	log  *zap.Logger

	mu           sync.Mutex
	state        State
	conn         io.ReadWriteCloser
	raw          lineReader
	r            *bufio.Reader
	w            *bufio.Writer
	openFailures int
	lastFailure  time.Time
}

// NewStreamMessenger creates a closed messenger. Nothing is dialed until Open.
func NewStreamMessenger(cfg MessengerConfig, d Dialer, log *zap.Logger) *StreamMessenger {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamMessenger{
		cfg:  cfg,
		dial: d,
		log:  log.With(zap.String("messenger", cfg.Name)),
	}
}

func (m *StreamMessenger) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OpenFailures returns the number of consecutive failed opens.
func (m *StreamMessenger) OpenFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openFailures
}

func (m *StreamMessenger) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	wait := m.reopenWaitLocked()
	m.state = StateOpening
	m.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			m.mu.Lock()
			m.state = StateClosed
			m.mu.Unlock()
			return Wrap(KindTransportClosed, "open", ctx.Err())
		}
	}

	conn, err := m.dial.Dial(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateClosed
		m.openFailures++
		m.lastFailure = time.Now()
		m.log.Warn("open failed", zap.Int("failures", m.openFailures), zap.Error(err))
		if m.cfg.MaxOpenFailures > 0 && m.openFailures >= m.cfg.MaxOpenFailures {
			return Wrap(KindLinkDown, "open", err)
		}
		return Wrap(KindTransportClosed, "open", err)
	}
	m.openFailures = 0
	m.conn = conn
	if dl, ok := conn.(readDeadliner); ok {
		m.raw = &deadlineReader{r: conn, dl: dl, timeout: m.cfg.ReadTimeout}
	} else {
		m.raw = newPumpReader(conn, m.cfg.ReadTimeout)
	}
	m.r = bufio.NewReader(m.raw)
	m.w = bufio.NewWriter(conn)
	m.state = StateOpen
	m.log.Debug("opened")
	return nil
}

// reopenWaitLocked is what is left of the backoff after the last failed open.
func (m *StreamMessenger) reopenWaitLocked() time.Duration {
	if m.openFailures == 0 || m.cfg.ReopenDelay <= 0 {
		return 0
	}
	d := m.cfg.ReopenDelay
	for i := 1; i < m.openFailures; i++ {
		d *= 2
		if m.cfg.MaxReopenDelay > 0 && d >= m.cfg.MaxReopenDelay {
			d = m.cfg.MaxReopenDelay
			break
		}
	}
	return d - time.Since(m.lastFailure)
}

func (m *StreamMessenger) Output(c *Controller) (io.Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return nil, Errorf(KindTransportClosed, "output for %s: transport not open", c)
	}
	return m.w, nil
}

func (m *StreamMessenger) Input(c *Controller) (io.Reader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen {
		return nil, Errorf(KindTransportClosed, "input for %s: transport not open", c)
	}
	return m.r, nil
}

func (m *StreamMessenger) Flush() error {
	m.mu.Lock()
	w := m.w
	m.mu.Unlock()
	if w == nil {
		return Errorf(KindTransportClosed, "flush: transport not open")
	}
	return w.Flush()
}

// Drain discards buffered input and anything that arrives until the line
// has been quiet for DrainTimeout.
func (m *StreamMessenger) Drain() error {
	m.mu.Lock()
	r, raw := m.r, m.raw
	m.mu.Unlock()
	if r == nil || raw == nil {
		return Errorf(KindTransportClosed, "drain: transport not open")
	}
	if n := r.Buffered(); n > 0 {
		_, _ = r.Discard(n)
		m.log.Debug("drained buffered bytes", zap.Int("bytes", n))
	}
	n, err := raw.discard(m.cfg.DrainTimeout)
	if n > 0 {
		m.log.Debug("drained stray bytes", zap.Int("bytes", n))
	}
	return err
}

func (m *StreamMessenger) Fail(err error) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	var ce *Error
	if !errors.As(err, &ce) {
		err = &Error{Kind: kind, Err: err}
	}
	if reopen(kind) {
		m.log.Info("closing transport for reopen", zap.String("kind", string(kind)), zap.Error(err))
		_ = m.Close()
	}
	return err
}

func (m *StreamMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		m.state = StateClosed
		return nil
	}
	err := m.conn.Close()
	m.raw.close()
	m.conn, m.raw, m.r, m.w = nil, nil, nil, nil
	m.state = StateClosed
	return err
}

// lineReader is the raw input side of a transport. Reads time out after
// the messenger's ReadTimeout; discard drops input until the line is quiet.
type lineReader interface {
	io.Reader
	discard(quiet time.Duration) (int, error)
	close()
}

// deadlineReader arms a fresh read deadline before every read, so a silent
// controller cannot stall the link worker.
type deadlineReader struct {
	r       io.Reader
	dl      readDeadliner
	timeout time.Duration
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.dl.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.r.Read(p)
}

func (d *deadlineReader) discard(quiet time.Duration) (int, error) {
	defer d.dl.SetReadDeadline(time.Time{})
	var scratch [64]byte
	total := 0
	for {
		if err := d.dl.SetReadDeadline(time.Now().Add(quiet)); err != nil {
			return total, err
		}
		n, err := d.r.Read(scratch[:])
		total += n
		if err != nil {
			if KindOf(err) == KindTimeout {
				return total, nil
			}
			return total, err
		}
	}
}

func (d *deadlineReader) close() {}

// pumpReader gives deadlines to transports that have none, such as serial
// ports. A goroutine keeps reading the port and hands chunks over; Read and
// discard wait for them with timers. The port's own timeout only bounds how
// long the goroutine takes to notice Close.
type pumpReader struct {
	timeout time.Duration
	chunks  chan []byte
	errc    chan error
	quit    chan struct{}
	once    sync.Once

	// owned by the reading side
	pending []byte
	err     error
}

func newPumpReader(r io.Reader, timeout time.Duration) *pumpReader {
	p := &pumpReader{
		timeout: timeout,
		chunks:  make(chan []byte, 16),
		errc:    make(chan error, 1),
		quit:    make(chan struct{}),
	}
	go p.pump(r)
	return p
}

func (p *pumpReader) pump(r io.Reader) {
	for {
		buf := make([]byte, 256)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case p.chunks <- buf[:n]:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			// the port's poll timeout, not the caller's
			if KindOf(err) == KindTimeout {
				continue
			}
			p.errc <- err
			return
		}
	}
}

func (p *pumpReader) Read(b []byte) (int, error) {
	if len(p.pending) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		var expired <-chan time.Time
		if p.timeout > 0 {
			t := time.NewTimer(p.timeout)
			defer t.Stop()
			expired = t.C
		}
		select {
		case c := <-p.chunks:
			p.pending = c
		case err := <-p.errc:
			p.err = err
			return 0, err
		case <-expired:
			return 0, os.ErrDeadlineExceeded
		}
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *pumpReader) discard(quiet time.Duration) (int, error) {
	total := len(p.pending)
	p.pending = nil
	if p.err != nil {
		return total, p.err
	}
	t := time.NewTimer(quiet)
	defer t.Stop()
	for {
		select {
		case c := <-p.chunks:
			total += len(c)
			if !t.Stop() {
				<-t.C
			}
			t.Reset(quiet)
		case err := <-p.errc:
			p.err = err
			return total, err
		case <-t.C:
			return total, nil
		}
	}
}

func (p *pumpReader) close() {
	p.once.Do(func() { close(p.quit) })
}
