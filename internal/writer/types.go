// internal/writer/types.go
package writer

// StatusPlan places one controller's status block in status memory.
type StatusPlan struct {
	Controller string
	UnitID     uint8
	BaseSlot   uint16 // block starts at BaseSlot*SlotsPerDevice
	Name       string // as written to the name slots, at most 16 chars
}

// endpointClient is the exact contract the writer uses.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}
