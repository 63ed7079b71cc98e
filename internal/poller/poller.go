// internal/poller/poller.go
package poller

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Config is the minimal runtime config the poller needs.
type Config struct {
	Link     string
	Interval time.Duration
}

// Poller is a clock-driven cycle coordinator. It never talks to a device
// itself; it only submits work to the link and waits for the barrier.
type Poller struct {
	cfg         Config
	sub         Submitter
	controllers []*comm.Controller
	factory     SampleFactory
	log         *zap.Logger
	now         func() time.Time
}

// New creates a poller with immutable config.
func New(cfg Config, sub Submitter, controllers []*comm.Controller, factory SampleFactory, log *zap.Logger) (*Poller, error) {
	if cfg.Link == "" {
		return nil, errors.New("poller: link name required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if sub == nil || factory == nil {
		return nil, errors.New("poller: submitter and sample factory required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		cfg:         cfg,
		sub:         sub,
		controllers: controllers,
		factory:     factory,
		log:         log.With(zap.String("poller", cfg.Link)),
		now:         time.Now,
	}, nil
}

// Cycle is one submitted batch of sample operations.
type Cycle struct {
	link    string
	started time.Time
	comp    *comm.Completer
	ops     []*comm.Operation
	refused int
}

// Done is closed when every operation of the cycle has ended.
func (c *Cycle) Done() <-chan struct{} { return c.comp.Done() }

// Result summarizes the cycle. Call it after Done.
func (c *Cycle) Result(finished time.Time) CycleResult {
	res := CycleResult{
		Link:     c.link,
		Started:  c.started,
		Finished: finished,
		Ops:      len(c.ops) + c.refused,
		Failed:   c.refused,
	}
	for _, op := range c.ops {
		if op.Failed() {
			res.Failed++
		}
	}
	return res
}

// PollOnce submits one cycle: one sample operation per controller, then
// seals the barrier. It does not wait.
func (p *Poller) PollOnce() *Cycle {
	cyc := &Cycle{
		link:    p.cfg.Link,
		started: p.now(),
		comp:    comm.NewCompleter(nil),
	}
	for _, c := range p.controllers {
		op := p.factory(c, cyc.comp)
		if err := p.sub.Submit(op); err != nil {
			cyc.refused++
			p.log.Warn("sample operation refused", zap.String("controller", c.Name), zap.Error(err))
			continue
		}
		cyc.ops = append(cyc.ops, op)
	}
	cyc.comp.Seal()
	return cyc
}
