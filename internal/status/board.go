// internal/status/board.go
package status

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Board tracks the health of every controller. It is fed by scheduler
// completion and halt hooks; readers take copies.
type Board struct {
	mu      sync.RWMutex
	now     func() time.Time
	log     *zap.Logger
	entries map[string]*Snapshot
}

func NewBoard(log *zap.Logger) *Board {
	if log == nil {
		log = zap.NewNop()
	}
	return &Board{
		now:     time.Now,
		log:     log,
		entries: make(map[string]*Snapshot),
	}
}

// Track registers c as unknown. Time spent unknown counts as time in error.
func (b *Board) Track(c *comm.Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[c.Name]; ok {
		return
	}
	now := b.now()
	b.entries[c.Name] = &Snapshot{
		Controller: c.Name,
		Link:       c.Link,
		Health:     HealthUnknown,
		ErrorSince: now,
		Updated:    now,
	}
}

// Attach wires the board to a link's scheduler.
func (b *Board) Attach(s *comm.Scheduler) {
	s.OnComplete(b.Observe)
	link := s.Link()
	s.OnHalt(func(err error) { b.DisableLink(link, err) })
}

// Observe folds one finished operation into its controller's health.
// Withdrawn and stopped operations say nothing about the controller.
func (b *Board) Observe(op *comm.Operation) {
	err := op.Err()
	if op.Failed() && (errors.Is(err, comm.ErrWithdrawn) || errors.Is(err, comm.ErrStopped)) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[op.Controller.Name]
	if !ok {
		return
	}
	now := b.now()
	e.Updated = now
	prev := e.Health

	switch {
	case op.Succeeded():
		e.Health = HealthOK
		e.LastError = nil
		e.LastErrorCode = CodeNone
		e.Failures = 0
		e.ErrorSince = time.Time{}

	case errors.Is(err, comm.ErrStale):
		// an error outranks stale
		if e.Health != HealthError {
			e.Health = HealthStale
		}
		e.LastError = err
		e.LastErrorCode = CodeStale
		if e.ErrorSince.IsZero() {
			e.ErrorSince = now
		}

	default:
		e.Health = HealthError
		e.LastError = err
		e.LastErrorCode = ErrorCode(err)
		e.Failures++
		if e.ErrorSince.IsZero() {
			e.ErrorSince = now
		}
	}

	if prev != e.Health {
		b.log.Info("controller health changed",
			zap.String("controller", e.Controller),
			zap.Uint16("from", prev),
			zap.Uint16("to", e.Health),
			zap.Error(e.LastError))
	}
}

// DisableLink marks every controller of link disabled.
func (b *Board) DisableLink(link string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for _, e := range b.entries {
		if e.Link != link {
			continue
		}
		e.Health = HealthDisabled
		e.LastError = err
		e.LastErrorCode = ErrorCode(err)
		e.Updated = now
		if e.ErrorSince.IsZero() {
			e.ErrorSince = now
		}
	}
	b.log.Warn("link disabled", zap.String("link", link), zap.Error(err))
}

// Get returns a copy of the controller's snapshot.
func (b *Board) Get(name string) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[name]
	if !ok {
		return Snapshot{}, false
	}
	return *e, true
}

// All returns copies of every snapshot ordered by controller name.
func (b *Board) All() []Snapshot {
	b.mu.RLock()
	out := make([]Snapshot, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Controller < out[j].Controller })
	return out
}

// Now is the board's clock.
func (b *Board) Now() time.Time { return b.now() }
