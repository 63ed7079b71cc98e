// internal/config/validate_test.go
package config

import (
	"strconv"
	"testing"
)

// helper to build a serial modbus link quickly
func link(name string, drops ...int) LinkConfig {
	l := LinkConfig{
		Name:      name,
		Transport: TransportSerial,
		Address:   "/dev/ttyS0",
		Protocol:  ProtocolModbusRTU,
	}
	for _, d := range drops {
		l.Controllers = append(l.Controllers, ControllerConfig{
			Name: name + "-" + strconv.Itoa(d),
			Drop: d,
		})
	}
	return l
}

func slot(v uint16) *uint16 { return &v }

// ---- tests ----

func TestValidate_Minimal(t *testing.T) {
	cfg := &Config{Links: []LinkConfig{link("l1", 1, 2)}}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_NoLinks(t *testing.T) {
	if err := Validate(&Config{}); err == nil {
		t.Fatalf("expected error for empty config, got nil")
	}
}

func TestValidate_DuplicateLinkName(t *testing.T) {
	cfg := &Config{Links: []LinkConfig{link("l1", 1), link("l1", 2)}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate link error, got nil")
	}
}

func TestValidate_SameDropDifferentLinks(t *testing.T) {
	cfg := &Config{Links: []LinkConfig{link("l1", 1), link("l2", 1)}}

	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_DuplicateDrop(t *testing.T) {
	l := link("l1", 1)
	l.Controllers = append(l.Controllers, ControllerConfig{Name: "other", Drop: 1})
	cfg := &Config{Links: []LinkConfig{l}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate drop error, got nil")
	}
}

func TestValidate_ControllerNameAcrossLinks(t *testing.T) {
	a := link("l1", 1)
	b := link("l2", 2)
	b.Controllers[0].Name = a.Controllers[0].Name
	cfg := &Config{Links: []LinkConfig{a, b}}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate controller error, got nil")
	}
}

func TestValidate_DropRange(t *testing.T) {
	cases := []struct {
		protocol string
		drop     int
		ok       bool
	}{
		{ProtocolModbusRTU, 0, false},
		{ProtocolModbusRTU, 247, true},
		{ProtocolModbusRTU, 248, false},
		{ProtocolVicon, 0, true},
		{ProtocolVicon, 256, false},
		{ProtocolCohu, 224, false},
	}
	for _, tc := range cases {
		l := link("l1", tc.drop)
		l.Protocol = tc.protocol
		err := Validate(&Config{Links: []LinkConfig{l}})
		if tc.ok && err != nil {
			t.Fatalf("%s drop %d: unexpected error: %v", tc.protocol, tc.drop, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s drop %d: expected error, got nil", tc.protocol, tc.drop)
		}
	}
}

func TestValidate_TransportAndProtocol(t *testing.T) {
	l := link("l1", 1)
	l.Transport = "udp"
	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected transport error, got nil")
	}

	l = link("l1", 1)
	l.Protocol = ProtocolModbusTCP
	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected modbus-tcp over serial error, got nil")
	}

	l = link("l1", 1)
	l.Address = ""
	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected address error, got nil")
	}
}

func TestValidate_SerialParity(t *testing.T) {
	l := link("l1", 1)
	l.Serial.Parity = "X"

	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected parity error, got nil")
	}
}

func TestValidate_StalenessKeys(t *testing.T) {
	l := link("l1", 1)
	l.Staleness = map[string]StalenessConfig{"data_5min": {MaxAgeMs: 60000}}
	if err := Validate(&Config{Links: []LinkConfig{l}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Staleness = map[string]StalenessConfig{"hourly": {MaxDepth: 1}}
	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected unknown priority error, got nil")
	}
}

func TestValidate_PollRequiresSampleGeometry(t *testing.T) {
	l := link("l1", 1)
	l.Poll = PollConfig{IntervalMs: 30000}
	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected samples.values error, got nil")
	}

	l.Poll.Samples.Values = 4
	if err := Validate(&Config{Links: []LinkConfig{l}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	l.Protocol = ProtocolVicon
	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected poll protocol error, got nil")
	}
}

func TestValidate_StatusSlotNeedsEndpoint(t *testing.T) {
	l := link("l1", 1)
	l.Controllers[0].StatusSlot = slot(0)

	if err := Validate(&Config{Links: []LinkConfig{l}}); err == nil {
		t.Fatalf("expected status_memory error, got nil")
	}
}

func TestValidate_StatusSlotCollision(t *testing.T) {
	a := link("l1", 1)
	b := link("l2", 1)
	a.Controllers[0].StatusSlot = slot(3)
	b.Controllers[0].StatusSlot = slot(3)
	cfg := &Config{
		StatusMemory: StatusMemoryConfig{Endpoint: "127.0.0.1:502"},
		Links:        []LinkConfig{a, b},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected slot collision error, got nil")
	}

	b.Controllers[0].StatusSlot = slot(4)
	cfg.Links[1] = b
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_StatusNameASCII(t *testing.T) {
	l := link("l1", 1)
	l.Controllers[0].Name = "détecteur"
	l.Controllers[0].StatusSlot = slot(0)
	cfg := &Config{
		StatusMemory: StatusMemoryConfig{Endpoint: "127.0.0.1:502"},
		Links:        []LinkConfig{l},
	}

	if err := Validate(cfg); err == nil {
		t.Fatalf("expected ASCII error, got nil")
	}
}
