// internal/protocol/modbus/sim_test.go
package modbus

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// simDevice is an in-memory Messenger that answers Modbus requests for any
// slave id. Requests are answered when the message flushes.
type simDevice struct {
	mode Mode

	mu      sync.Mutex
	holding map[uint16]uint16
	input   map[uint16]uint16
	out     bytes.Buffer
	in      bytes.Buffer
	state   comm.State

	// corrupt flips the CRC of this many upcoming RTU responses
	corrupt int
	// garble sets an impossible byte count in this many upcoming RTU
	// read responses, padded so the reader never starves
	garble int
	// optional overrides; exc != 0 answers with an exception
	read  func(fc byte, addr, qty uint16) (vals []uint16, exc byte)
	write func(addr uint16, vals []uint16) (exc byte)

	requests int
}

func newSim(mode Mode) *simDevice {
	return &simDevice{
		mode:    mode,
		holding: map[uint16]uint16{},
		input:   map[uint16]uint16{},
		state:   comm.StateOpen,
	}
}

func (d *simDevice) Open(context.Context) error {
	d.mu.Lock()
	d.state = comm.StateOpen
	d.mu.Unlock()
	return nil
}

func (d *simDevice) Output(*comm.Controller) (io.Writer, error) { return &d.out, nil }

func (d *simDevice) Input(*comm.Controller) (io.Reader, error) { return &d.in, nil }

func (d *simDevice) Drain() error {
	d.in.Reset()
	return nil
}

func (d *simDevice) Fail(err error) error {
	var ce *comm.Error
	if !errors.As(err, &ce) {
		err = &comm.Error{Kind: comm.KindOf(err), Err: err}
	}
	return err
}

func (d *simDevice) Close() error {
	d.mu.Lock()
	d.state = comm.StateClosed
	d.mu.Unlock()
	return nil
}

func (d *simDevice) State() comm.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *simDevice) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.out.Len() > 0 {
		b := d.out.Bytes()
		var n int
		if d.mode == ModeTCP {
			n = tcpHeaderSize - 1 + int(binary.BigEndian.Uint16(b[4:]))
		} else if b[1] == modbus.FuncCodeWriteMultipleRegisters {
			n = 7 + int(b[6]) + 2
		} else {
			n = 8
		}
		req := d.out.Next(n)
		d.requests++
		d.in.Write(d.answer(req))
	}
	return nil
}

func (d *simDevice) answer(req []byte) []byte {
	var slave byte
	var pdu modbus.ProtocolDataUnit
	if d.mode == ModeTCP {
		slave = req[6]
		pdu = modbus.ProtocolDataUnit{FunctionCode: req[7], Data: req[8:]}
	} else {
		slave = req[0]
		pdu = modbus.ProtocolDataUnit{FunctionCode: req[1], Data: req[2 : len(req)-2]}
	}
	resp := d.handle(pdu)

	if d.mode == ModeTCP {
		adu := make([]byte, tcpHeaderSize, tcpHeaderSize+1+len(resp.Data))
		copy(adu, req[:4])
		binary.BigEndian.PutUint16(adu[4:], uint16(2+len(resp.Data)))
		adu[6] = slave
		adu = append(adu, resp.FunctionCode)
		return append(adu, resp.Data...)
	}
	h := modbus.NewRTUClientHandler("")
	h.SlaveId = slave
	adu, err := h.Encode(&resp)
	if err != nil {
		panic(err)
	}
	if d.corrupt > 0 {
		d.corrupt--
		adu[len(adu)-1] ^= 0xFF
	}
	if d.garble > 0 && len(adu) > 3 && adu[1]&0x80 == 0 && (adu[1] == modbus.FuncCodeReadHoldingRegisters || adu[1] == modbus.FuncCodeReadInputRegisters) {
		d.garble--
		adu[2] = 0xFF
		adu = append(adu, make([]byte, 0x100)...)
	}
	return adu
}

func (d *simDevice) handle(pdu modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	fc := pdu.FunctionCode
	addr := binary.BigEndian.Uint16(pdu.Data)
	qty := binary.BigEndian.Uint16(pdu.Data[2:])
	exception := func(code byte) modbus.ProtocolDataUnit {
		return modbus.ProtocolDataUnit{FunctionCode: fc | 0x80, Data: []byte{code}}
	}

	switch fc {
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeReadInputRegisters:
		var vals []uint16
		if d.read != nil {
			var exc byte
			if vals, exc = d.read(fc, addr, qty); exc != 0 {
				return exception(exc)
			}
		} else {
			mem := d.holding
			if fc == modbus.FuncCodeReadInputRegisters {
				mem = d.input
			}
			for i := uint16(0); i < qty; i++ {
				vals = append(vals, mem[addr+i])
			}
		}
		data := []byte{byte(2 * len(vals))}
		for _, v := range vals {
			data = binary.BigEndian.AppendUint16(data, v)
		}
		return modbus.ProtocolDataUnit{FunctionCode: fc, Data: data}

	case modbus.FuncCodeWriteMultipleRegisters:
		vals := make([]uint16, qty)
		for i := range vals {
			vals[i] = binary.BigEndian.Uint16(pdu.Data[5+2*i:])
		}
		if d.write != nil {
			if exc := d.write(addr, vals); exc != 0 {
				return exception(exc)
			}
		} else {
			for i, v := range vals {
				d.holding[addr+uint16(i)] = v
			}
		}
		return modbus.ProtocolDataUnit{FunctionCode: fc, Data: pdu.Data[:4]}
	}
	return exception(modbus.ExceptionCodeIllegalFunction)
}

// runOps submits ops to a scheduler over d and waits for all of them.
func runOps(t *testing.T, d *simDevice, retries int, ops ...*comm.Operation) {
	t.Helper()
	s := comm.NewScheduler(comm.SchedulerConfig{Link: "sim", MaxRetries: retries}, d, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	for _, op := range ops {
		if err := s.Submit(op); err != nil {
			t.Fatalf("submit %s: %v", op, err)
		}
	}
	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	for _, op := range ops {
		if err := op.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("%s did not finish", op)
		}
	}
}

func mustFramer(t *testing.T, mode Mode) *Framer {
	t.Helper()
	f, err := NewFramer(mode)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func ctl(drop int) *comm.Controller {
	return &comm.Controller{Name: fmt.Sprintf("ctl%d", drop), Link: "sim", Drop: drop}
}
