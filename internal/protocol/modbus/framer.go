// internal/protocol/modbus/framer.go
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// Mode selects the frame format.
type Mode string

const (
	ModeRTU Mode = "rtu" // slave id + PDU + CRC, for multi-drop serial lines
	ModeTCP Mode = "tcp" // MBAP header + PDU
)

const (
	tcpHeaderSize = 7
	maxPDU        = 253
)

// Framer turns PDUs into ADUs and back for one link.
// It mutates the packager's slave id per frame, so it serializes.
type Framer struct {
	mu   sync.Mutex
	mode Mode
	rtu  *modbus.RTUClientHandler
	tcp  *modbus.TCPClientHandler
}

// NewFramer creates a framer. The handlers are used only as packagers;
// the link's messenger owns the transport.
func NewFramer(mode Mode) (*Framer, error) {
	f := &Framer{mode: mode}
	switch mode {
	case ModeRTU:
		f.rtu = modbus.NewRTUClientHandler("")
	case ModeTCP:
		f.tcp = modbus.NewTCPClientHandler("")
	default:
		return nil, fmt.Errorf("modbus: unknown mode %q", mode)
	}
	return f, nil
}

func (f *Framer) Mode() Mode { return f.mode }

func (f *Framer) packager(slave byte) modbus.Packager {
	if f.rtu != nil {
		f.rtu.SlaveId = slave
		return f.rtu
	}
	f.tcp.SlaveId = slave
	return f.tcp
}

// Encode builds the request ADU for slave.
func (f *Framer) Encode(slave byte, pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	adu, err := f.packager(slave).Encode(pdu)
	if err != nil {
		return nil, comm.Wrap(comm.KindError, "modbus encode", err)
	}
	return adu, nil
}

// ReadFrame reads exactly one response ADU from r.
func (f *Framer) ReadFrame(r io.Reader) ([]byte, error) {
	if f.mode == ModeTCP {
		return readTCPFrame(r)
	}
	return readRTUFrame(r)
}

func readTCPFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, tcpHeaderSize, tcpHeaderSize+maxPDU)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[4:]))
	if n < 2 || n-1 > maxPDU {
		return nil, comm.Errorf(comm.KindMalformed, "mbap length %d", n)
	}
	adu := hdr[:tcpHeaderSize+n-1]
	if _, err := io.ReadFull(r, adu[tcpHeaderSize:]); err != nil {
		return nil, err
	}
	return adu, nil
}

// readRTUFrame sizes the frame from its function code, the way a serial
// master must since RTU has no length field.
func readRTUFrame(r io.Reader) ([]byte, error) {
	adu := make([]byte, 2, 2+maxPDU)
	if _, err := io.ReadFull(r, adu); err != nil {
		return nil, err
	}
	fc := adu[1]
	var rest int
	switch {
	case fc&0x80 != 0:
		rest = 1 + 2
	case fc == modbus.FuncCodeReadHoldingRegisters, fc == modbus.FuncCodeReadInputRegisters:
		var cnt [1]byte
		if _, err := io.ReadFull(r, cnt[:]); err != nil {
			return nil, err
		}
		// slave, fc, count, data, crc must fit an RTU ADU
		if 3+int(cnt[0])+2 > cap(adu) {
			return nil, comm.Errorf(comm.KindMalformed, "byte count %d exceeds frame size", cnt[0])
		}
		adu = append(adu, cnt[0])
		rest = int(cnt[0]) + 2
	case fc == modbus.FuncCodeWriteSingleRegister, fc == modbus.FuncCodeWriteMultipleRegisters:
		rest = 4 + 2
	default:
		return nil, comm.Errorf(comm.KindMalformed, "unexpected function code %#x", fc)
	}
	start := len(adu)
	adu = adu[:start+rest]
	if _, err := io.ReadFull(r, adu[start:]); err != nil {
		return nil, err
	}
	return adu, nil
}

// Decode verifies resp against req and returns its PDU. An exception
// response is DeviceRejected; framing and CRC faults are MalformedResponse.
func (f *Framer) Decode(req, resp []byte) (*modbus.ProtocolDataUnit, error) {
	f.mu.Lock()
	p := f.packager(f.slave(req))
	if err := p.Verify(req, resp); err != nil {
		f.mu.Unlock()
		return nil, comm.Wrap(comm.KindMalformed, "modbus verify", err)
	}
	pdu, err := p.Decode(resp)
	f.mu.Unlock()
	if err != nil {
		return nil, comm.Wrap(comm.KindMalformed, "modbus decode", err)
	}

	want := f.function(req)
	switch pdu.FunctionCode {
	case want:
		return pdu, nil
	case want | 0x80:
		me := &modbus.ModbusError{FunctionCode: pdu.FunctionCode}
		if len(pdu.Data) > 0 {
			me.ExceptionCode = pdu.Data[0]
		}
		return nil, comm.Wrap(comm.KindRejected, "modbus", me)
	}
	return nil, comm.Errorf(comm.KindMalformed, "function code %#x, want %#x", pdu.FunctionCode, want)
}

func (f *Framer) slave(adu []byte) byte {
	if f.mode == ModeTCP {
		return adu[6]
	}
	return adu[0]
}

func (f *Framer) function(adu []byte) byte {
	if f.mode == ModeTCP {
		return adu[tcpHeaderSize]
	}
	return adu[1]
}

// IsException reports whether err carries a Modbus exception response.
func IsException(err error, code byte) bool {
	var me *modbus.ModbusError
	return errors.As(err, &me) && me.ExceptionCode == code
}
