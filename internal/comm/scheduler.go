// internal/comm/scheduler.go
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Staleness bounds how long a not-yet-started operation of one priority
// class may wait. Either knob may be zero (disabled).
type Staleness struct {
	// MaxAge drops an operation queued longer than this.
	MaxAge time.Duration
	// MaxDepth keeps at most this many waiting operations of the class;
	// the oldest are dropped first.
	MaxDepth int
}

// SchedulerConfig is the per-link scheduling policy.
type SchedulerConfig struct {
	Link         string
	MaxRetries   int
	RetryBackoff time.Duration
	Staleness    map[Priority]Staleness
}

// Scheduler serializes every operation of one link through its messenger.
// Submit and Withdraw are safe from any goroutine; Run is the link's single
// worker.
type Scheduler struct {
	cfg   SchedulerConfig
	m     Messenger
	log   *zap.Logger
	trace *zap.Logger
	now   func() time.Time

	mu        sync.Mutex
	queue     opQueue
	active    map[*Controller]*Operation
	seq       uint64
	running   bool
	stopped   error
	signal    chan struct{}
	onDone    []func(*Operation)
	onHalt    []func(error)
	phaseHook func(op *Operation, enter bool)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithPhaseHook calls fn on entry to and exit from every phase, on the
// worker goroutine.
func WithPhaseHook(fn func(op *Operation, enter bool)) SchedulerOption {
	return func(s *Scheduler) { s.phaseHook = fn }
}

// NewScheduler creates a scheduler for one link. It owns m from now on.
func NewScheduler(cfg SchedulerConfig, m Messenger, log *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	s := &Scheduler{
		cfg:    cfg,
		m:      m,
		log:    log.With(zap.String("link", cfg.Link)),
		trace:  log.Named("protocol").With(zap.String("link", cfg.Link)),
		now:    time.Now,
		active: make(map[*Controller]*Operation),
		signal: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Link returns the link name.
func (s *Scheduler) Link() string { return s.cfg.Link }

// OnComplete registers fn to run after every operation ends.
func (s *Scheduler) OnComplete(fn func(*Operation)) {
	s.mu.Lock()
	s.onDone = append(s.onDone, fn)
	s.mu.Unlock()
}

// OnHalt registers fn to run if the link halts on a fatal transport error.
func (s *Scheduler) OnHalt(fn func(error)) {
	s.mu.Lock()
	s.onHalt = append(s.onHalt, fn)
	s.mu.Unlock()
}

// Len returns the number of queued operations, including ones between
// phases.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Submit queues op. Its completer, if any, is counted up immediately.
func (s *Scheduler) Submit(op *Operation) error {
	if op == nil {
		return errors.New("comm: operation has no phase")
	}
	s.mu.Lock()
	// an operation already submitted belongs to the worker; its phase
	// must not be read here
	if op.seq != 0 {
		s.mu.Unlock()
		return fmt.Errorf("comm: %s already submitted", op)
	}
	if op.phase == nil {
		s.mu.Unlock()
		return errors.New("comm: operation has no phase")
	}
	if op.Controller == nil {
		s.mu.Unlock()
		return errors.New("comm: operation has no controller")
	}
	if s.stopped != nil {
		err := s.stopped
		s.mu.Unlock()
		return err
	}
	s.seq++
	op.seq = s.seq
	op.queued = s.now()
	if op.completer != nil {
		op.completer.Up()
	}
	s.queue.push(op)
	dropped := s.dropDeepLocked(op.Priority)
	s.mu.Unlock()

	s.log.Debug("submitted", zap.String("op", op.Name), zap.String("id", op.ID),
		zap.String("controller", op.Controller.Name), zap.Stringer("priority", op.Priority))
	for _, d := range dropped {
		s.complete(d, OpFailed, ErrStale)
	}
	s.wake()
	return nil
}

// Withdraw removes op if it has not started. A started operation is left to
// finish its current conversation.
func (s *Scheduler) Withdraw(op *Operation) bool {
	s.mu.Lock()
	if !op.started.IsZero() || !s.queue.remove(op) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	s.complete(op, OpFailed, ErrWithdrawn)
	return true
}

// Run is the link worker. It returns ctx.Err() on cancellation, or an error
// wrapping ErrLinkHalted when the transport cannot be reopened. Queued
// operations are failed in either case.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("comm: scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	s.log.Info("link worker started")
	for {
		if err := ctx.Err(); err != nil {
			s.stop(ErrStopped)
			s.log.Info("link worker stopped")
			return err
		}
		op, wait := s.next()
		if op != nil {
			if err := s.tick(ctx, op); err != nil {
				herr := fmt.Errorf("%w: %s: %w", ErrLinkHalted, s.cfg.Link, err)
				s.halt(herr)
				return herr
			}
			continue
		}
		if wait < 0 {
			wait = time.Hour
		}
		resetTimer(timer, wait)
		select {
		case <-ctx.Done():
		case <-s.signal:
		case <-timer.C:
		}
	}
}

// next picks the highest-priority operation that may run now: its controller
// is idle or already owned by it, and any retry backoff has elapsed. The
// returned duration is how long until a backed-off operation becomes ready,
// or -1.
func (s *Scheduler) next() (*Operation, time.Duration) {
	now := s.now()
	s.mu.Lock()
	dropped := s.dropAgedLocked(now)

	var (
		picked  *Operation
		skipped []*Operation
		wait    = time.Duration(-1)
	)
	for s.queue.Len() > 0 {
		op := s.queue.pop()
		owner := s.active[op.Controller]
		if owner != nil && owner != op {
			skipped = append(skipped, op)
			continue
		}
		if op.due.After(now) {
			if d := op.due.Sub(now); wait < 0 || d < wait {
				wait = d
			}
			skipped = append(skipped, op)
			continue
		}
		picked = op
		break
	}
	for _, op := range skipped {
		s.queue.push(op)
	}
	if picked != nil {
		s.active[picked.Controller] = picked
		if picked.started.IsZero() {
			picked.started = now
		}
	}
	s.mu.Unlock()

	for _, d := range dropped {
		s.complete(d, OpFailed, ErrStale)
	}
	return picked, wait
}

// tick runs exactly one phase of op. A non-nil return halts the link.
func (s *Scheduler) tick(ctx context.Context, op *Operation) error {
	if op.State() == OpPending {
		s.log.Debug("begin", zap.String("op", op.Name), zap.String("id", op.ID),
			zap.String("controller", op.Controller.Name))
	}
	op.setState(OpRunning, nil)

	if err := s.m.Open(ctx); err != nil {
		return s.handleError(op, err)
	}
	msg := NewMessage(s.m, op.Controller, s.trace)
	next, err := s.runPhase(ctx, op, msg)
	if err != nil {
		return s.handleError(op, err)
	}
	if next == nil {
		s.complete(op, OpSucceeded, nil)
		return nil
	}
	op.phase = next
	s.requeue(op, time.Time{})
	return nil
}

func (s *Scheduler) runPhase(ctx context.Context, op *Operation, msg *Message) (next Phase, err error) {
	if s.phaseHook != nil {
		s.phaseHook(op, true)
		defer s.phaseHook(op, false)
	}
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = Errorf(KindError, "phase panic: %v", r)
		}
	}()
	return op.phase(ctx, msg)
}

func (s *Scheduler) handleError(op *Operation, err error) error {
	err = s.m.Fail(err)
	kind := KindOf(err)
	log := s.log.With(zap.String("op", op.Name), zap.String("id", op.ID),
		zap.String("controller", op.Controller.Name), zap.String("kind", string(kind)))

	switch {
	case kind == KindLinkDown:
		s.complete(op, OpFailed, err)
		return err

	case Retryable(kind):
		budget := op.maxRetries
		if budget < 0 {
			budget = s.cfg.MaxRetries
		}
		op.mu.Lock()
		op.retries++
		n := op.retries
		op.mu.Unlock()
		if n > budget {
			log.Warn("retries exhausted", zap.Int("retries", n-1), zap.Error(err))
			s.complete(op, OpFailed, err)
			return nil
		}
		log.Info("retrying", zap.Int("retry", n), zap.Error(err))
		op.setState(OpRetrying, err)
		s.requeue(op, s.backoff())
		return nil

	case op.localRetryable(kind):
		op.mu.Lock()
		op.localRetries++
		n := op.localRetries
		op.mu.Unlock()
		if n > op.localBudget {
			log.Warn("local retries exhausted", zap.Int("retries", n-1), zap.Error(err))
			s.complete(op, OpFailed, err)
			return nil
		}
		log.Info("retrying", zap.Int("local_retry", n), zap.Error(err))
		op.setState(OpRetrying, err)
		s.requeue(op, s.backoff())
		return nil
	}

	log.Warn("operation failed", zap.Error(err))
	s.complete(op, OpFailed, err)
	return nil
}

func (s *Scheduler) backoff() time.Time {
	if s.cfg.RetryBackoff <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.cfg.RetryBackoff)
}

func (s *Scheduler) requeue(op *Operation, due time.Time) {
	s.mu.Lock()
	op.due = due
	s.queue.push(op)
	s.mu.Unlock()
}

// complete retires op and notifies listeners. Never called with s.mu held.
func (s *Scheduler) complete(op *Operation, st OpState, err error) {
	s.mu.Lock()
	if s.active[op.Controller] == op {
		delete(s.active, op.Controller)
	}
	hooks := s.onDone
	s.mu.Unlock()

	op.finish(st, err)
	if st == OpSucceeded {
		s.log.Debug("succeeded", zap.String("op", op.Name), zap.String("id", op.ID),
			zap.String("controller", op.Controller.Name))
	} else if !errors.Is(err, ErrStale) {
		s.log.Debug("failed", zap.String("op", op.Name), zap.String("id", op.ID),
			zap.String("controller", op.Controller.Name), zap.Error(err))
	} else {
		s.log.Info("dropped stale operation", zap.String("op", op.Name),
			zap.String("controller", op.Controller.Name), zap.Stringer("priority", op.Priority))
	}
	for _, fn := range hooks {
		fn(op)
	}
}

// dropAgedLocked removes waiting operations older than their class MaxAge.
func (s *Scheduler) dropAgedLocked(now time.Time) []*Operation {
	if len(s.cfg.Staleness) == 0 {
		return nil
	}
	var dropped []*Operation
	for _, op := range s.queue {
		st := s.cfg.Staleness[op.Priority]
		if st.MaxAge > 0 && op.started.IsZero() && now.Sub(op.queued) > st.MaxAge {
			dropped = append(dropped, op)
		}
	}
	for _, op := range dropped {
		s.queue.remove(op)
	}
	return dropped
}

// dropDeepLocked enforces MaxDepth for priority p, oldest first.
func (s *Scheduler) dropDeepLocked(p Priority) []*Operation {
	st := s.cfg.Staleness[p]
	if st.MaxDepth <= 0 {
		return nil
	}
	var waiting []*Operation
	for _, op := range s.queue {
		if op.Priority == p && op.started.IsZero() {
			waiting = append(waiting, op)
		}
	}
	var dropped []*Operation
	for len(waiting) > st.MaxDepth {
		oldest := 0
		for i, op := range waiting {
			if op.seq < waiting[oldest].seq {
				oldest = i
			}
		}
		op := waiting[oldest]
		s.queue.remove(op)
		dropped = append(dropped, op)
		waiting = append(waiting[:oldest], waiting[oldest+1:]...)
	}
	return dropped
}

func (s *Scheduler) stop(reason error) []*Operation {
	s.mu.Lock()
	if s.stopped == nil {
		s.stopped = reason
	}
	ops := make([]*Operation, 0, len(s.queue))
	for s.queue.Len() > 0 {
		ops = append(ops, s.queue.pop())
	}
	s.mu.Unlock()

	for _, op := range ops {
		s.complete(op, OpFailed, reason)
	}
	_ = s.m.Close()
	return ops
}

func (s *Scheduler) halt(err error) {
	s.log.Error("link halted", zap.Error(err))
	s.stop(err)
	s.mu.Lock()
	hooks := s.onHalt
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(err)
	}
}

func (s *Scheduler) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
