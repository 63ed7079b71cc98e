// internal/status/constants.go
package status

// Controller Status Block layout constants.
// These values define the mirror layout and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of registers per controller block.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

const (
	SlotHealthCode     = 0
	SlotLastErrorCode  = 1
	SlotSecondsInError = 2
	// SlotFailures holds consecutive failed operations, saturating.
	SlotFailures = 3
)

// Slots 4-10 are reserved.
const (
	SlotReservedStart = 4
	SlotReservedEnd   = 10
)

// ---- CONTROLLER NAME ----

// The name always sits at the END of the block, two ASCII bytes per slot.
const (
	SlotNameStart = 11
	SlotNameSlots = 8
	SlotNameEnd   = SlotNameStart + SlotNameSlots - 1
	NameMaxChars  = 16
)

// ---- HEALTH CODES ----

const (
	HealthUnknown  uint16 = 0 // no answer yet
	HealthOK       uint16 = 1
	HealthError    uint16 = 2
	HealthStale    uint16 = 3 // work was dropped before it ran
	HealthDisabled uint16 = 4 // link halted
)

// ---- ERROR CODES ----

// Slot 1 carries one of these. Modbus exception responses are passed
// through as CodeException | exception code.
const (
	CodeNone            uint16 = 0
	CodeError           uint16 = 1
	CodeTimeout         uint16 = 2
	CodeMalformed       uint16 = 3
	CodeRejected        uint16 = 4
	CodeTransportClosed uint16 = 5
	CodeUnsupported     uint16 = 6
	CodeLinkDown        uint16 = 7
	CodeStale           uint16 = 8

	CodeException uint16 = 0x0100
)

// MaxRegister is where 16-bit counters saturate.
const MaxRegister = 65535
