// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/fieldcomm/internal/status"
)

// StatusWriter is the delivery-only contract for controller status.
// It receives live slots and writes them verbatim.
type StatusWriter interface {
	WriteStatus(l status.Live) error
}

// controllerStatusWriter owns one controller's status block.
type controllerStatusWriter struct {
	plan StatusPlan
	cli  endpointClient

	needFull bool
	last     status.Live
	nameRegs []uint16
}

func newControllerStatusWriter(plan StatusPlan, cli endpointClient) *controllerStatusWriter {
	return &controllerStatusWriter{
		plan:     plan,
		cli:      cli,
		needFull: true, // full re-assert on first successful write
		nameRegs: status.EncodeName(plan.Name),
	}
}

// WriteStatus delivers live slots into status memory.
// On any write failure, the next call re-asserts the full block.
func (sw *controllerStatusWriter) WriteStatus(l status.Live) error {
	if sw == nil || sw.cli == nil {
		return errors.New("status writer: disabled")
	}

	base := sw.baseAddr()

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, base, status.Encode(l, sw.nameRegs)); err != nil {
			return fmt.Errorf("status writer: %s: full block write failed: %w", sw.plan.Controller, err)
		}
		sw.needFull = false
		sw.last = l
		return nil
	}

	var errs []string
	write := func(slot uint16, label string, cur *uint16, v uint16) {
		if *cur == v {
			return
		}
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, base+slot, []uint16{v}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, label, err))
			return
		}
		*cur = v
	}

	write(status.SlotHealthCode, "health", &sw.last.Health, l.Health)
	write(status.SlotLastErrorCode, "last_error", &sw.last.LastErrorCode, l.LastErrorCode)
	write(status.SlotSecondsInError, "seconds", &sw.last.SecondsInError, l.SecondsInError)
	write(status.SlotFailures, "failures", &sw.last.Failures, l.Failures)

	if len(errs) > 0 {
		// Any partial failure introduces doubt: re-assert on next call.
		sw.needFull = true
		return fmt.Errorf("status writer: %s: %s", sw.plan.Controller, strings.Join(errs, " | "))
	}
	return nil
}

func (sw *controllerStatusWriter) baseAddr() uint16 {
	return sw.plan.BaseSlot * status.SlotsPerDevice
}
