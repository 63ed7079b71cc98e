// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

const (
	ProtocolModbusRTU = "modbus-rtu"
	ProtocolModbusTCP = "modbus-tcp"
	ProtocolVicon     = "vicon"
	ProtocolCohu      = "cohu"

	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

// registers per sample record ahead of the values
const sampleHeader = 3

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if len(cfg.Links) == 0 {
		return fmt.Errorf("no links defined")
	}
	if cfg.StatusMemory.TimeoutMs < 0 {
		return fmt.Errorf("status_memory: timeout_ms must not be negative")
	}

	linkNames := make(map[string]bool)
	ctlOwner := make(map[string]string) // controller name -> link
	slotOwner := make(map[uint16]string)

	for _, l := range cfg.Links {
		if l.Name == "" {
			return fmt.Errorf("link without name")
		}
		if linkNames[l.Name] {
			return fmt.Errorf("duplicate link name %q", l.Name)
		}
		linkNames[l.Name] = true

		if err := validateLink(l); err != nil {
			return fmt.Errorf("link %q: %w", l.Name, err)
		}

		// ------------------------------------------------------------
		// CONTROLLERS
		// ------------------------------------------------------------

		lo, hi := dropRange(l.Protocol)
		drops := make(map[int]string)
		for _, c := range l.Controllers {
			if c.Name == "" {
				return fmt.Errorf("link %q: controller without name", l.Name)
			}
			if prev, exists := ctlOwner[c.Name]; exists {
				return fmt.Errorf("controller %q defined on links %q and %q", c.Name, prev, l.Name)
			}
			ctlOwner[c.Name] = l.Name

			if c.Drop < lo || c.Drop > hi {
				return fmt.Errorf("link %q: controller %q: drop %d outside %d-%d", l.Name, c.Name, c.Drop, lo, hi)
			}
			if prev, exists := drops[c.Drop]; exists {
				return fmt.Errorf("link %q: drop %d used by controllers %q and %q", l.Name, c.Drop, prev, c.Name)
			}
			drops[c.Drop] = c.Name

			// status is opt-in
			if c.StatusSlot == nil {
				continue
			}
			if cfg.StatusMemory.Endpoint == "" {
				return fmt.Errorf("controller %q: status_slot is set but status_memory.endpoint is empty", c.Name)
			}
			for i := 0; i < len(c.Name); i++ {
				if c.Name[i] > 0x7F {
					return fmt.Errorf("controller %q: name must contain ASCII characters only when status_slot is set", c.Name)
				}
			}
			if prev, exists := slotOwner[*c.StatusSlot]; exists {
				return fmt.Errorf("status_slot collision: slot=%d used by controllers %q and %q", *c.StatusSlot, prev, c.Name)
			}
			slotOwner[*c.StatusSlot] = c.Name
		}
	}

	return nil
}

func validateLink(l LinkConfig) error {
	switch l.Transport {
	case TransportSerial, TransportTCP:
	default:
		return fmt.Errorf("unknown transport %q", l.Transport)
	}
	if l.Address == "" {
		return fmt.Errorf("address required")
	}

	switch l.Protocol {
	case ProtocolModbusRTU, ProtocolVicon, ProtocolCohu:
	case ProtocolModbusTCP:
		if l.Transport != TransportTCP {
			return fmt.Errorf("protocol %s requires tcp transport", l.Protocol)
		}
	default:
		return fmt.Errorf("unknown protocol %q", l.Protocol)
	}

	if l.Transport == TransportSerial {
		s := l.Serial
		switch s.Parity {
		case "", "N", "E", "O":
		default:
			return fmt.Errorf("serial parity %q must be N, E or O", s.Parity)
		}
		if s.BaudRate < 0 {
			return fmt.Errorf("serial baud_rate must not be negative")
		}
		if s.DataBits != 0 && (s.DataBits < 5 || s.DataBits > 8) {
			return fmt.Errorf("serial data_bits %d outside 5-8", s.DataBits)
		}
		if s.StopBits != 0 && s.StopBits != 1 && s.StopBits != 2 {
			return fmt.Errorf("serial stop_bits %d must be 1 or 2", s.StopBits)
		}
	}

	if l.TimeoutMs < 0 || l.DialTimeoutMs < 0 || l.RetryBackoffMs < 0 ||
		l.ReopenDelayMs < 0 || l.MaxReopenDelayMs < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if l.Retries != nil && *l.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if l.MaxOpenFailures != nil && *l.MaxOpenFailures < 0 {
		return fmt.Errorf("max_open_failures must not be negative")
	}

	for name, st := range l.Staleness {
		if _, err := comm.ParsePriority(name); err != nil {
			return fmt.Errorf("staleness: %w", err)
		}
		if st.MaxAgeMs < 0 || st.MaxDepth < 0 {
			return fmt.Errorf("staleness %s: bounds must not be negative", name)
		}
	}

	return validatePoll(l)
}

func validatePoll(l LinkConfig) error {
	p := l.Poll
	if p.IntervalMs < 0 {
		return fmt.Errorf("poll interval_ms must not be negative")
	}
	if !p.Enabled() {
		return nil
	}
	if l.Protocol != ProtocolModbusRTU && l.Protocol != ProtocolModbusTCP {
		return fmt.Errorf("poll: protocol %s does not collect samples", l.Protocol)
	}
	if p.Priority != "" {
		if _, err := comm.ParsePriority(p.Priority); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
	}
	s := p.Samples
	if s.Values == 0 || int(s.Values)+sampleHeader > 125 {
		return fmt.Errorf("poll: samples.values %d outside 1-%d", s.Values, 125-sampleHeader)
	}
	if s.IntervalMs < 0 {
		return fmt.Errorf("poll: samples.interval_ms must not be negative")
	}
	if s.MaxBadRecords != nil && *s.MaxBadRecords < 0 {
		return fmt.Errorf("poll: samples.max_bad_records must not be negative")
	}
	return nil
}

// dropRange is the valid address range for a protocol's controllers.
func dropRange(protocol string) (int, int) {
	switch protocol {
	case ProtocolModbusRTU, ProtocolModbusTCP:
		return 1, 247
	case ProtocolCohu:
		return 1, 223
	}
	return 0, 255
}
