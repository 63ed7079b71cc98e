// internal/config/config.go
package config

import "github.com/tamzrod/fieldcomm/internal/logging"

type Config struct {
	Logging      logging.Config     `yaml:"logging"`
	StatusMemory StatusMemoryConfig `yaml:"status_memory"`
	Links        []LinkConfig       `yaml:"links"`
}

// ---- STATUS MEMORY ----

// StatusMemoryConfig is the optional Modbus TCP endpoint that mirrors
// controller health. Empty endpoint disables it.
type StatusMemoryConfig struct {
	Endpoint  string `yaml:"endpoint"`
	UnitID    uint8  `yaml:"unit_id"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// ---- LINK ----

type LinkConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // serial | tcp
	Address   string `yaml:"address"`   // device path or host:port
	Protocol  string `yaml:"protocol"`  // modbus-rtu | modbus-tcp | vicon | cohu

	Serial SerialConfig `yaml:"serial"`

	TimeoutMs      int `yaml:"timeout_ms"`
	DialTimeoutMs  int `yaml:"dial_timeout_ms"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`

	// wait before reopening after a failed open, doubling to the max
	ReopenDelayMs    int `yaml:"reopen_delay_ms"`
	MaxReopenDelayMs int `yaml:"max_reopen_delay_ms"`

	// pointers so an explicit 0 survives Normalize
	Retries         *int `yaml:"retries"`
	MaxOpenFailures *int `yaml:"max_open_failures"`

	// keyed by priority name
	Staleness map[string]StalenessConfig `yaml:"staleness"`

	Poll        PollConfig         `yaml:"poll"`
	Controllers []ControllerConfig `yaml:"controllers"`
}

type SerialConfig struct {
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"` // N | E | O
}

type StalenessConfig struct {
	MaxAgeMs int `yaml:"max_age_ms"`
	MaxDepth int `yaml:"max_depth"`
}

// ---- POLL ----

// PollConfig enables interval sample collection on a link.
type PollConfig struct {
	IntervalMs int           `yaml:"interval_ms"` // 0 disables polling
	Priority   string        `yaml:"priority"`
	Samples    SamplesConfig `yaml:"samples"`
}

type SamplesConfig struct {
	RecordAddress  uint16  `yaml:"record_address"`
	Values         uint16  `yaml:"values"`
	AckAddress     uint16  `yaml:"ack_address"`
	CurrentAddress *uint16 `yaml:"current_address"`
	IntervalMs     int     `yaml:"interval_ms"`
	MaxBadRecords  *int    `yaml:"max_bad_records"`
}

// ---- CONTROLLER ----

type ControllerConfig struct {
	Name string `yaml:"name"`
	Drop int    `yaml:"drop"`
	Pins []int  `yaml:"pins"`

	// Status block slot in status memory (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot"`
}

// Enabled reports whether the link collects samples on an interval.
func (p PollConfig) Enabled() bool { return p.IntervalMs > 0 }
