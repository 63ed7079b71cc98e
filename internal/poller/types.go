// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Submitter queues operations on a link. *comm.Scheduler satisfies it.
type Submitter interface {
	Submit(op *comm.Operation) error
}

// SampleFactory creates one controller's sample operation for a cycle.
// The operation must hold comp until it ends.
type SampleFactory func(c *comm.Controller, comp *comm.Completer) *comm.Operation

// CycleResult is produced once every operation of a cycle has ended.
type CycleResult struct {
	Link     string
	Started  time.Time
	Finished time.Time

	Ops    int // operations in the cycle
	Failed int // of which failed, including those the link refused
}

func (r CycleResult) Elapsed() time.Duration { return r.Finished.Sub(r.Started) }
