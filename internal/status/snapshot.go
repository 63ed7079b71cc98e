// internal/status/snapshot.go
package status

import (
	"errors"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Snapshot is the health of one controller at a point in time.
type Snapshot struct {
	Controller string
	Link       string

	Health        uint16
	LastError     error
	LastErrorCode uint16
	// Failures counts operations failed since the last success.
	Failures int
	// ErrorSince is when the controller left HealthOK; zero while OK.
	ErrorSince time.Time
	Updated    time.Time
}

// SecondsInError is the time since ErrorSince, saturating at 65535.
func (s Snapshot) SecondsInError(now time.Time) uint16 {
	if s.Health == HealthOK || s.ErrorSince.IsZero() {
		return 0
	}
	return saturate(int64(now.Sub(s.ErrorSince) / time.Second))
}

func saturate(v int64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > MaxRegister:
		return MaxRegister
	}
	return uint16(v)
}

// ErrorCode maps an operation error to its slot 1 code.
func ErrorCode(err error) uint16 {
	if err == nil {
		return CodeNone
	}
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return CodeException | uint16(me.ExceptionCode)
	}
	if errors.Is(err, comm.ErrStale) {
		return CodeStale
	}
	switch comm.KindOf(err) {
	case comm.KindTimeout:
		return CodeTimeout
	case comm.KindMalformed:
		return CodeMalformed
	case comm.KindRejected:
		return CodeRejected
	case comm.KindTransportClosed:
		return CodeTransportClosed
	case comm.KindUnsupported:
		return CodeUnsupported
	case comm.KindLinkDown:
		return CodeLinkDown
	}
	return CodeError
}
