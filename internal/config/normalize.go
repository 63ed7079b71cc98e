// internal/config/normalize.go
package config

// Defaults applied by Normalize.
const (
	DefaultTimeoutMs       = 750
	DefaultDialTimeoutMs   = 2000
	DefaultRetries         = 3
	DefaultMaxOpenFailures = 5
	DefaultReopenDelayMs   = 2000
	DefaultMaxReopenDelay  = 30000
	DefaultMaxBadRecords   = 5
	DefaultStatusTimeoutMs = 1000

	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = "N"

	DefaultLogLevel     = "info"
	DefaultPollPriority = "data_5min"

	MaxStatusName = 16
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.StatusMemory.Endpoint != "" && cfg.StatusMemory.TimeoutMs == 0 {
		cfg.StatusMemory.TimeoutMs = DefaultStatusTimeoutMs
	}

	for li := range cfg.Links {
		l := &cfg.Links[li]

		if l.TimeoutMs == 0 {
			l.TimeoutMs = DefaultTimeoutMs
		}
		if l.DialTimeoutMs == 0 {
			l.DialTimeoutMs = DefaultDialTimeoutMs
		}
		if l.ReopenDelayMs == 0 {
			l.ReopenDelayMs = DefaultReopenDelayMs
		}
		if l.MaxReopenDelayMs == 0 {
			l.MaxReopenDelayMs = DefaultMaxReopenDelay
		}
		if l.Retries == nil {
			l.Retries = intPtr(DefaultRetries)
		}
		if l.MaxOpenFailures == nil {
			l.MaxOpenFailures = intPtr(DefaultMaxOpenFailures)
		}

		if l.Transport == TransportSerial {
			if l.Serial.BaudRate == 0 {
				l.Serial.BaudRate = DefaultBaudRate
			}
			if l.Serial.DataBits == 0 {
				l.Serial.DataBits = DefaultDataBits
			}
			if l.Serial.StopBits == 0 {
				l.Serial.StopBits = DefaultStopBits
			}
			if l.Serial.Parity == "" {
				l.Serial.Parity = DefaultParity
			}
		}

		if l.Poll.Enabled() {
			if l.Poll.Priority == "" {
				l.Poll.Priority = DefaultPollPriority
			}
			if l.Poll.Samples.MaxBadRecords == nil {
				l.Poll.Samples.MaxBadRecords = intPtr(DefaultMaxBadRecords)
			}
			if l.Poll.Samples.IntervalMs == 0 {
				l.Poll.Samples.IntervalMs = l.Poll.IntervalMs
			}
		}
	}
}

// StatusName is the controller name as written to its status block:
// ASCII (validated), at most 16 characters.
func StatusName(c ControllerConfig) string {
	if len(c.Name) > MaxStatusName {
		return c.Name[:MaxStatusName]
	}
	return c.Name
}

func intPtr(v int) *int { return &v }
