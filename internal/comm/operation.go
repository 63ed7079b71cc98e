// internal/comm/operation.go
package comm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders operations. Lower values run first.
type Priority int

const (
	PriorityCommand Priority = iota
	PriorityDeviceData
	PriorityData30Sec
	PriorityData5Min
	PriorityDiagnostic
)

var priorityNames = [...]string{
	PriorityCommand:    "command",
	PriorityDeviceData: "device_data",
	PriorityData30Sec:  "data_30sec",
	PriorityData5Min:   "data_5min",
	PriorityDiagnostic: "diagnostic",
}

func (p Priority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority maps a configuration name to a Priority.
func ParsePriority(s string) (Priority, error) {
	for i, n := range priorityNames {
		if strings.EqualFold(s, n) {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("comm: unknown priority %q", s)
}

// Phase is one request/response step. It returns the next phase, or nil when
// the operation is complete. State for one conversation lives in whatever the
// closure captures.
type Phase func(ctx context.Context, msg *Message) (Phase, error)

// OpState is the lifecycle state of an operation.
type OpState int

const (
	OpPending OpState = iota
	OpRunning
	OpRetrying
	OpSucceeded
	OpFailed
)

func (s OpState) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpRunning:
		return "running"
	case OpRetrying:
		return "retrying"
	case OpSucceeded:
		return "succeeded"
	case OpFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is succeeded or failed.
func (s OpState) Terminal() bool { return s == OpSucceeded || s == OpFailed }

// Operation is a prioritized, multi-phase conversation with one controller.
// After Submit it is mutated only by its link's worker.
type Operation struct {
	ID         string
	Name       string
	Priority   Priority
	Controller *Controller

	completer *Completer
	cleanups  []func(*Operation)

	// retry policy; maxRetries < 0 means use the scheduler default
	maxRetries  int
	localKinds  []Kind
	localBudget int

	phase   Phase
	seq     uint64
	index   int
	queued  time.Time
	started time.Time
	due     time.Time

	mu           sync.Mutex
	state        OpState
	err          error
	retries      int
	localRetries int
	done         chan struct{}
}

// OpOption configures an operation.
type OpOption func(*Operation)

// WithCompleter attaches a cycle barrier. The scheduler calls Up on submit
// and Down when the operation ends.
func WithCompleter(c *Completer) OpOption {
	return func(op *Operation) { op.completer = c }
}

// WithCleanup registers a hook run exactly once when the operation ends.
func WithCleanup(fn func(*Operation)) OpOption {
	return func(op *Operation) { op.cleanups = append(op.cleanups, fn) }
}

// WithMaxRetries overrides the link's transport retry budget.
func WithMaxRetries(n int) OpOption {
	return func(op *Operation) { op.maxRetries = n }
}

// WithLocalRetry opts into retrying errors of the given kinds (normally
// MalformedResponse or DeviceRejected) up to budget times. This budget is
// counted separately from transport retries.
func WithLocalRetry(budget int, kinds ...Kind) OpOption {
	return func(op *Operation) {
		op.localBudget = budget
		op.localKinds = append(op.localKinds, kinds...)
	}
}

// NewOperation creates a pending operation starting at first.
func NewOperation(name string, p Priority, c *Controller, first Phase, opts ...OpOption) *Operation {
	op := &Operation{
		ID:         uuid.NewString(),
		Name:       name,
		Priority:   p,
		Controller: c,
		phase:      first,
		maxRetries: -1,
		index:      -1,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(op)
	}
	return op
}

func (op *Operation) String() string {
	return fmt.Sprintf("%s(%s, %s)", op.Name, op.Controller, op.Priority)
}

func (op *Operation) State() OpState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Err returns the last error; for a failed operation, the failure reason.
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

func (op *Operation) Succeeded() bool { return op.State() == OpSucceeded }

func (op *Operation) Failed() bool { return op.State() == OpFailed }

// Retries returns the number of transport retries consumed.
func (op *Operation) Retries() int {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.retries
}

// Completer returns the attached barrier, if any.
func (op *Operation) Completer() *Completer { return op.completer }

// Done is closed once the operation reaches a terminal state.
func (op *Operation) Done() <-chan struct{} { return op.done }

// Wait blocks until the operation ends and returns its failure reason.
func (op *Operation) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (op *Operation) setState(s OpState, err error) {
	op.mu.Lock()
	op.state = s
	if err != nil {
		op.err = err
	}
	op.mu.Unlock()
}

func (op *Operation) localRetryable(k Kind) bool {
	for _, lk := range op.localKinds {
		if lk == k {
			return true
		}
	}
	return false
}

// finish moves op to a terminal state, runs its cleanups and releases its
// completer. It is called exactly once per operation.
func (op *Operation) finish(s OpState, err error) {
	op.mu.Lock()
	op.state = s
	if s == OpSucceeded {
		op.err = nil
	} else if err != nil {
		op.err = err
	}
	op.phase = nil
	op.mu.Unlock()

	defer func() {
		if op.completer != nil {
			op.completer.Down()
		}
		close(op.done)
	}()
	for _, fn := range op.cleanups {
		runCleanup(fn, op)
	}
}

func runCleanup(fn func(*Operation), op *Operation) {
	defer func() { _ = recover() }()
	fn(op)
}
