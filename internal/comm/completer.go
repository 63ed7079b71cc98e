// internal/comm/completer.go
package comm

import (
	"sync/atomic"
)

// Completer is a counting barrier for a batch of operations spread across
// controllers. Each operation calls Up when it is submitted and Down when it
// ends. The owner calls Seal once every operation of the batch has been
// submitted; the callback fires exactly once, when the count is zero and
// the completer is sealed.
//
// Safe for concurrent use.
type Completer struct {
	count  atomic.Int64
	sealed atomic.Bool
	fired  atomic.Bool
	done   chan struct{}
	fn     func()
}

// NewCompleter creates a completer; fn may be nil.
func NewCompleter(fn func()) *Completer {
	return &Completer{fn: fn, done: make(chan struct{})}
}

func (c *Completer) Up() {
	c.count.Add(1)
}

// Down decrements the counter. It never goes below zero.
func (c *Completer) Down() {
	for {
		n := c.count.Load()
		if n <= 0 {
			return
		}
		if c.count.CompareAndSwap(n, n-1) {
			if n == 1 && c.sealed.Load() {
				c.fire()
			}
			return
		}
	}
}

// Seal arms the barrier. If nothing is outstanding it fires immediately.
func (c *Completer) Seal() {
	c.sealed.Store(true)
	if c.count.Load() == 0 {
		c.fire()
	}
}

// Count returns the number of outstanding operations.
func (c *Completer) Count() int { return int(c.count.Load()) }

// Done is closed when the barrier fires.
func (c *Completer) Done() <-chan struct{} { return c.done }

// Complete reports whether the barrier has fired.
func (c *Completer) Complete() bool { return c.fired.Load() }

func (c *Completer) fire() {
	if !c.fired.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	if c.fn != nil {
		c.fn()
	}
}
