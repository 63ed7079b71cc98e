// internal/link/link.go
package link

import (
	"fmt"
	"time"

	"github.com/goburrow/serial"
	"go.uber.org/zap"

	"github.com/tamzrod/fieldcomm/internal/comm"
	cfg "github.com/tamzrod/fieldcomm/internal/config"
	"github.com/tamzrod/fieldcomm/internal/poller"
	pmodbus "github.com/tamzrod/fieldcomm/internal/protocol/modbus"
)

// Link is one communication line with everything that runs on it.
type Link struct {
	Name        string
	Protocol    string
	Messenger   *comm.StreamMessenger
	Scheduler   *comm.Scheduler
	Controllers []*comm.Controller

	// Framer is set for modbus links.
	Framer *pmodbus.Framer
	// Poller is set when the link collects samples on an interval.
	Poller *poller.Poller
}

// Controller looks up a controller by name.
func (l *Link) Controller(name string) (*comm.Controller, bool) {
	for _, c := range l.Controllers {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Build turns one validated, normalized link definition into a runnable link.
// sink receives every collected sample; it may be nil.
func Build(lc cfg.LinkConfig, sink func(pmodbus.Sample), log *zap.Logger) (*Link, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("link", lc.Name))

	dialer, err := buildDialer(lc)
	if err != nil {
		return nil, err
	}

	m := comm.NewStreamMessenger(comm.MessengerConfig{
		Name:            lc.Name,
		ReadTimeout:     ms(lc.TimeoutMs),
		MaxOpenFailures: deref(lc.MaxOpenFailures),
		ReopenDelay:     ms(lc.ReopenDelayMs),
		MaxReopenDelay:  ms(lc.MaxReopenDelayMs),
	}, dialer, log)

	stale, err := buildStaleness(lc.Staleness)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", lc.Name, err)
	}

	s := comm.NewScheduler(comm.SchedulerConfig{
		Link:         lc.Name,
		MaxRetries:   deref(lc.Retries),
		RetryBackoff: ms(lc.RetryBackoffMs),
		Staleness:    stale,
	}, m, log)

	l := &Link{
		Name:      lc.Name,
		Protocol:  lc.Protocol,
		Messenger: m,
		Scheduler: s,
	}
	for _, cc := range lc.Controllers {
		l.Controllers = append(l.Controllers, &comm.Controller{
			Name: cc.Name,
			Link: lc.Name,
			Drop: cc.Drop,
			Pins: append([]int(nil), cc.Pins...),
		})
	}

	switch lc.Protocol {
	case cfg.ProtocolModbusRTU, cfg.ProtocolModbusTCP:
		mode := pmodbus.ModeRTU
		if lc.Protocol == cfg.ProtocolModbusTCP {
			mode = pmodbus.ModeTCP
		}
		if l.Framer, err = pmodbus.NewFramer(mode); err != nil {
			return nil, fmt.Errorf("link %s: %w", lc.Name, err)
		}
	}

	if lc.Poll.Enabled() {
		if l.Framer == nil {
			return nil, fmt.Errorf("link %s: polling needs a modbus protocol", lc.Name)
		}
		prio, err := comm.ParsePriority(lc.Poll.Priority)
		if err != nil {
			return nil, fmt.Errorf("link %s: poll: %w", lc.Name, err)
		}
		sc := lc.Poll.Samples
		sampler := pmodbus.NewSampler(l.Framer, pmodbus.SampleConfig{
			RecordAddress:  sc.RecordAddress,
			Values:         sc.Values,
			AckAddress:     sc.AckAddress,
			CurrentAddress: sc.CurrentAddress,
			Interval:       ms(sc.IntervalMs),
			MaxBadRecords:  deref(sc.MaxBadRecords),
			Priority:       prio,
		}, sink, log)

		l.Poller, err = poller.New(poller.Config{
			Link:     lc.Name,
			Interval: ms(lc.Poll.IntervalMs),
		}, s, l.Controllers, sampler.QuerySamples, log)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", lc.Name, err)
		}
	}

	return l, nil
}

func buildDialer(lc cfg.LinkConfig) (comm.Dialer, error) {
	switch lc.Transport {
	case cfg.TransportTCP:
		return comm.TCPDialer{Address: lc.Address, Timeout: ms(lc.DialTimeoutMs)}, nil
	case cfg.TransportSerial:
		return comm.SerialDialer{Config: serial.Config{
			Address:  lc.Address,
			BaudRate: lc.Serial.BaudRate,
			DataBits: lc.Serial.DataBits,
			StopBits: lc.Serial.StopBits,
			Parity:   lc.Serial.Parity,
			Timeout:  ms(lc.TimeoutMs),
		}}, nil
	default:
		return nil, fmt.Errorf("link %s: unknown transport %q", lc.Name, lc.Transport)
	}
}

func buildStaleness(in map[string]cfg.StalenessConfig) (map[comm.Priority]comm.Staleness, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[comm.Priority]comm.Staleness, len(in))
	for name, sc := range in {
		p, err := comm.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("staleness: %w", err)
		}
		out[p] = comm.Staleness{MaxAge: ms(sc.MaxAgeMs), MaxDepth: sc.MaxDepth}
	}
	return out, nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
