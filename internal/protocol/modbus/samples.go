// internal/protocol/modbus/samples.go
package modbus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Accepted record stamps lie within [now-MaxSampleAge, now+MaxSampleSkew],
// where now is when the collection was created.
const (
	MaxSampleAge  = 24 * time.Hour
	MaxSampleSkew = 4*time.Minute + 20*time.Second
)

// recordHeader is the register count before a record's values:
// remaining records, then the stamp as unix seconds (high word first).
const recordHeader = 3

// SampleConfig describes a controller's interval sample log.
type SampleConfig struct {
	// RecordAddress is the first register of the oldest unread record.
	RecordAddress uint16
	// Values is the number of value registers per record.
	Values uint16
	// AckAddress deletes a record when its two stamp registers are written
	// here. Acking a stamp that is already gone is a no-op.
	AckAddress uint16
	// CurrentAddress, if set, is a live data block read instead when the
	// controller rejects the log read.
	CurrentAddress *uint16
	// Interval is subtracted from record stamps, which mark interval end.
	Interval      time.Duration
	MaxBadRecords int
	Priority      comm.Priority
}

// Sample is one interval record collected from a controller.
type Sample struct {
	Controller string
	Stamp      time.Time
	Values     []uint16
	// Live is set when the values came from the current data block.
	Live bool
}

// Sampler builds interval sample collection operations.
type Sampler struct {
	f    *Framer
	cfg  SampleConfig
	sink func(Sample)
	log  *zap.Logger
	now  func() time.Time
}

func NewSampler(f *Framer, cfg SampleConfig, sink func(Sample), log *zap.Logger) *Sampler {
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = func(Sample) {}
	}
	return &Sampler{f: f, cfg: cfg, sink: sink, log: log, now: time.Now}
}

// QuerySamples creates an operation that drains c's sample log. It reads
// and acknowledges one record per pair of phases, and keeps going while
// records remain and the acceptance window is open. comp, if not nil, is
// held until the operation ends.
func (s *Sampler) QuerySamples(c *comm.Controller, comp *comm.Completer) *comm.Operation {
	now := s.now()
	col := &collector{
		s:      s,
		c:      c,
		oldest: now.Add(-MaxSampleAge),
		newest: now.Add(MaxSampleSkew),
	}
	var opts []comm.OpOption
	if comp != nil {
		opts = append(opts, comm.WithCompleter(comp))
	}
	return comm.NewOperation("query_samples", s.cfg.Priority, c, col.readRecord, opts...)
}

// collector is the state of one sample collection.
type collector struct {
	s      *Sampler
	c      *comm.Controller
	oldest time.Time
	newest time.Time

	bad       int
	remaining int
	raw       []uint16 // stamp registers of the current record
	stamp     time.Time
	values    []uint16
}

func (col *collector) readRecord(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	cfg := col.s.cfg
	rec := NewRegisters(col.s.f, cfg.RecordAddress, recordHeader+cfg.Values)
	msg.Add(rec)
	if err := msg.QueryProps(); err != nil {
		if errors.Is(err, comm.KindRejected) && cfg.CurrentAddress != nil {
			col.s.log.Warn("sample log rejected, reading current data",
				zap.String("controller", col.c.Name), zap.Error(err))
			return col.readCurrent, nil
		}
		return nil, err
	}
	col.remaining = int(rec.Values[0])
	col.raw = rec.Values[1:recordHeader]
	secs := int64(uint32(rec.Values[1])<<16 | uint32(rec.Values[2]))
	col.stamp = time.Unix(secs, 0).UTC().Add(-cfg.Interval)
	col.values = rec.Values[recordHeader:]
	return col.ackRecord, nil
}

func (col *collector) ackRecord(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	ack := NewRegisters(col.s.f, col.s.cfg.AckAddress, recordHeader-1)
	ack.Values = col.raw
	msg.Add(ack)
	if err := msg.StoreProps(); err != nil {
		return nil, err
	}

	if col.stamp.Before(col.oldest) || col.stamp.After(col.newest) {
		col.bad++
		col.s.log.Warn("bad sample timestamp",
			zap.String("controller", col.c.Name),
			zap.Time("stamp", col.stamp),
			zap.Int("bad", col.bad))
		if col.bad > col.s.cfg.MaxBadRecords || col.remaining == 0 {
			return nil, nil
		}
		return col.readRecord, nil
	}

	col.s.sink(Sample{Controller: col.c.Name, Stamp: col.stamp, Values: col.values})
	if col.remaining > 0 && col.s.now().Before(col.newest) {
		return col.readRecord, nil
	}
	return nil, nil
}

func (col *collector) readCurrent(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
	cur := NewRegisters(col.s.f, *col.s.cfg.CurrentAddress, col.s.cfg.Values)
	msg.Add(cur)
	if err := msg.QueryProps(); err != nil {
		return nil, err
	}
	col.s.sink(Sample{Controller: col.c.Name, Stamp: col.s.now(), Values: cur.Values, Live: true})
	return nil, nil
}
