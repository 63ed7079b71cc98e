// internal/status/encode.go
package status

import "time"

// Live holds the slots that change at runtime.
type Live struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
	Failures       uint16
}

// LiveAt derives the live slots of s at now.
func (s Snapshot) LiveAt(now time.Time) Live {
	return Live{
		Health:         s.Health,
		LastErrorCode:  s.LastErrorCode,
		SecondsInError: s.SecondsInError(now),
		Failures:       saturate(int64(s.Failures)),
	}
}

// Encode converts live slots and a name into a full status block.
// Layout is locked. No IO. No side effects.
func Encode(l Live, name []uint16) []uint16 {
	regs := make([]uint16, SlotsPerDevice)

	regs[SlotHealthCode] = l.Health
	regs[SlotLastErrorCode] = l.LastErrorCode
	regs[SlotSecondsInError] = l.SecondsInError
	regs[SlotFailures] = l.Failures

	// reserved slots stay zero
	copy(regs[SlotNameStart:SlotNameEnd+1], name)
	return regs
}

// EncodeName packs up to 16 ASCII characters into 8 registers, two bytes
// per register, big-endian. Non-printable bytes become '?'.
func EncodeName(name string) []uint16 {
	out := make([]uint16, SlotNameSlots)

	b := []byte(name)
	if len(b) > NameMaxChars {
		b = b[:NameMaxChars]
	}
	for i := range b {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < NameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}
	return out
}
