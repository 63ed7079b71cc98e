// internal/protocol/modbus/property.go
package modbus

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// maximum register quantities per request
const (
	maxReadRegisters  = 125
	maxWriteRegisters = 123
)

// RegistersProperty is a block of holding registers. Query fills Values;
// store writes Values.
type RegistersProperty struct {
	f       *Framer
	Address uint16
	Count   uint16
	Values  []uint16

	req []byte
}

// NewRegisters creates a holding register block of count registers.
func NewRegisters(f *Framer, address, count uint16) *RegistersProperty {
	return &RegistersProperty{f: f, Address: address, Count: count}
}

func (p *RegistersProperty) String() string {
	return fmt.Sprintf("holding[%d+%d]", p.Address, p.Count)
}

func (p *RegistersProperty) EncodeQuery(c *comm.Controller, w io.Writer) error {
	req, err := encodeRead(p.f, c, modbus.FuncCodeReadHoldingRegisters, p.Address, p.Count)
	if err != nil {
		return err
	}
	p.req = req
	_, err = w.Write(req)
	return err
}

func (p *RegistersProperty) DecodeQuery(c *comm.Controller, r io.Reader) error {
	vals, err := decodeRead(p.f, p.req, r, p.Count)
	if err != nil {
		return err
	}
	p.Values = vals
	return nil
}

func (p *RegistersProperty) EncodeStore(c *comm.Controller, w io.Writer) error {
	n := len(p.Values)
	if n == 0 || n > maxWriteRegisters {
		return comm.Errorf(comm.KindError, "%s: cannot store %d registers", p, n)
	}
	data := make([]byte, 5+2*n)
	binary.BigEndian.PutUint16(data[0:], p.Address)
	binary.BigEndian.PutUint16(data[2:], uint16(n))
	data[4] = byte(2 * n)
	for i, v := range p.Values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}
	req, err := p.f.Encode(byte(c.Drop), &modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Data:         data,
	})
	if err != nil {
		return err
	}
	p.req = req
	_, err = w.Write(req)
	return err
}

func (p *RegistersProperty) DecodeStore(c *comm.Controller, r io.Reader) error {
	resp, err := p.f.ReadFrame(r)
	if err != nil {
		return err
	}
	pdu, err := p.f.Decode(p.req, resp)
	if err != nil {
		return err
	}
	if len(pdu.Data) != 4 {
		return comm.Errorf(comm.KindMalformed, "%s: write response length %d", p, len(pdu.Data))
	}
	addr := binary.BigEndian.Uint16(pdu.Data)
	qty := binary.BigEndian.Uint16(pdu.Data[2:])
	if addr != p.Address || int(qty) != len(p.Values) {
		return comm.Errorf(comm.KindMalformed, "%s: write echo %d+%d", p, addr, qty)
	}
	return nil
}

// InputRegistersProperty is a read-only block of input registers.
type InputRegistersProperty struct {
	comm.Unsupported

	f       *Framer
	Address uint16
	Count   uint16
	Values  []uint16

	req []byte
}

func NewInputRegisters(f *Framer, address, count uint16) *InputRegistersProperty {
	return &InputRegistersProperty{f: f, Address: address, Count: count}
}

func (p *InputRegistersProperty) String() string {
	return fmt.Sprintf("input[%d+%d]", p.Address, p.Count)
}

func (p *InputRegistersProperty) EncodeQuery(c *comm.Controller, w io.Writer) error {
	req, err := encodeRead(p.f, c, modbus.FuncCodeReadInputRegisters, p.Address, p.Count)
	if err != nil {
		return err
	}
	p.req = req
	_, err = w.Write(req)
	return err
}

func (p *InputRegistersProperty) DecodeQuery(c *comm.Controller, r io.Reader) error {
	vals, err := decodeRead(p.f, p.req, r, p.Count)
	if err != nil {
		return err
	}
	p.Values = vals
	return nil
}

func encodeRead(f *Framer, c *comm.Controller, fc byte, addr, count uint16) ([]byte, error) {
	if count == 0 || count > maxReadRegisters {
		return nil, comm.Errorf(comm.KindError, "cannot read %d registers", count)
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], count)
	return f.Encode(byte(c.Drop), &modbus.ProtocolDataUnit{FunctionCode: fc, Data: data})
}

func decodeRead(f *Framer, req []byte, r io.Reader, count uint16) ([]uint16, error) {
	resp, err := f.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	pdu, err := f.Decode(req, resp)
	if err != nil {
		return nil, err
	}
	want := int(count) * 2
	if len(pdu.Data) != want+1 || int(pdu.Data[0]) != want {
		return nil, comm.Errorf(comm.KindMalformed, "register response length %d, want %d", len(pdu.Data)-1, want)
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(pdu.Data[1+2*i:])
	}
	return out, nil
}
