// internal/protocol/modbus/modbus_test.go
package modbus

import (
	"bytes"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

func TestQueryRegisters(t *testing.T) {
	for _, mode := range []Mode{ModeRTU, ModeTCP} {
		t.Run(string(mode), func(t *testing.T) {
			d := newSim(mode)
			d.holding[100] = 11
			d.holding[101] = 22
			d.holding[102] = 33

			var got []uint16
			op := QueryRegisters(mustFramer(t, mode), ctl(1), comm.PriorityDeviceData, 100, 3, func(v []uint16) { got = v })
			runOps(t, d, 0, op)

			require.NoError(t, op.Err())
			assert.Equal(t, []uint16{11, 22, 33}, got)
		})
	}
}

func TestStoreRegisters(t *testing.T) {
	for _, mode := range []Mode{ModeRTU, ModeTCP} {
		t.Run(string(mode), func(t *testing.T) {
			d := newSim(mode)
			op := StoreRegisters(mustFramer(t, mode), ctl(7), 40, []uint16{0xBEEF, 1})
			runOps(t, d, 0, op)

			require.NoError(t, op.Err())
			assert.Equal(t, comm.PriorityCommand, op.Priority)
			assert.Equal(t, uint16(0xBEEF), d.holding[40])
			assert.Equal(t, uint16(1), d.holding[41])
		})
	}
}

func TestMultiDropControllers(t *testing.T) {
	d := newSim(ModeRTU)
	d.holding[0] = 5
	f := mustFramer(t, ModeRTU)

	var a, b []uint16
	opA := QueryRegisters(f, ctl(1), comm.PriorityDeviceData, 0, 1, func(v []uint16) { a = v })
	opB := QueryRegisters(f, ctl(2), comm.PriorityDeviceData, 0, 1, func(v []uint16) { b = v })
	runOps(t, d, 0, opA, opB)

	require.NoError(t, opA.Err())
	require.NoError(t, opB.Err())
	assert.Equal(t, []uint16{5}, a)
	assert.Equal(t, []uint16{5}, b)
}

func TestExceptionIsDeviceRejected(t *testing.T) {
	d := newSim(ModeRTU)
	d.read = func(fc byte, addr, qty uint16) ([]uint16, byte) {
		return nil, modbus.ExceptionCodeIllegalDataAddress
	}
	op := QueryRegisters(mustFramer(t, ModeRTU), ctl(1), comm.PriorityDeviceData, 9000, 1, nil)
	runOps(t, d, 3, op)

	err := op.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, comm.KindRejected)
	assert.True(t, IsException(err, modbus.ExceptionCodeIllegalDataAddress))
	assert.Equal(t, 1, d.requests, "rejections are not retried")
}

func TestBadCRCIsMalformed(t *testing.T) {
	d := newSim(ModeRTU)
	d.corrupt = 1
	op := QueryRegisters(mustFramer(t, ModeRTU), ctl(1), comm.PriorityDeviceData, 0, 1, nil)
	runOps(t, d, 3, op)
	assert.ErrorIs(t, op.Err(), comm.KindMalformed)

	d.corrupt = 1
	op = QueryRegisters(mustFramer(t, ModeRTU), ctl(1), comm.PriorityDeviceData, 0, 1, nil,
		comm.WithLocalRetry(1, comm.KindMalformed))
	runOps(t, d, 0, op)
	assert.NoError(t, op.Err())
}

func TestSlaveMismatchIsMalformed(t *testing.T) {
	f := mustFramer(t, ModeRTU)
	req, err := f.Encode(1, &modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0, 0, 0, 1}})
	require.NoError(t, err)

	h := modbus.NewRTUClientHandler("")
	h.SlaveId = 2
	resp, err := h.Encode(&modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{2, 0, 1}})
	require.NoError(t, err)

	_, err = f.Decode(req, resp)
	assert.ErrorIs(t, err, comm.KindMalformed)
}

func TestReadRTUFrameLeavesTrailingBytes(t *testing.T) {
	h := modbus.NewRTUClientHandler("")
	h.SlaveId = 3
	frame, err := h.Encode(&modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{4, 0, 1, 0, 2}})
	require.NoError(t, err)

	r := bytes.NewReader(append(append([]byte(nil), frame...), 0xAA))
	got, err := readRTUFrame(r)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
	assert.Equal(t, 1, r.Len())
}

func TestStoreThenQueryRoundTrip(t *testing.T) {
	for _, mode := range []Mode{ModeRTU, ModeTCP} {
		t.Run(string(mode), func(t *testing.T) {
			d := newSim(mode)
			f := mustFramer(t, mode)
			want := []uint16{0, 1, 0x7FFF, 0x8000, 0xFFFF}

			store := StoreRegisters(f, ctl(7), 40, want)
			runOps(t, d, 0, store)
			require.NoError(t, store.Err())

			var got []uint16
			query := QueryRegisters(f, ctl(7), comm.PriorityDeviceData, 40, uint16(len(want)), func(v []uint16) { got = v })
			runOps(t, d, 0, query)
			require.NoError(t, query.Err())
			assert.Equal(t, want, got)
		})
	}
}

func TestReadRTUFrameRejectsOversizedByteCount(t *testing.T) {
	for _, cnt := range []byte{251, 0xFF} {
		r := bytes.NewReader(append([]byte{1, modbus.FuncCodeReadHoldingRegisters, cnt}, make([]byte, 300)...))
		_, err := readRTUFrame(r)
		require.Error(t, err)
		assert.ErrorIs(t, err, comm.KindMalformed)
	}

	// largest legal reply still fits
	r := bytes.NewReader(append([]byte{1, modbus.FuncCodeReadHoldingRegisters, 250}, make([]byte, 252)...))
	got, err := readRTUFrame(r)
	require.NoError(t, err)
	assert.Len(t, got, 255)
}

func TestGarbledByteCountIsLocallyRetried(t *testing.T) {
	d := newSim(ModeRTU)
	d.holding[10] = 7
	d.garble = 1

	var got []uint16
	op := QueryRegisters(mustFramer(t, ModeRTU), ctl(1), comm.PriorityDeviceData, 10, 1,
		func(v []uint16) { got = v }, comm.WithLocalRetry(2, comm.KindMalformed))
	runOps(t, d, 0, op)

	require.NoError(t, op.Err())
	assert.Equal(t, []uint16{7}, got)
}

func TestInputRegisters(t *testing.T) {
	d := newSim(ModeTCP)
	d.input[3] = 99
	f := mustFramer(t, ModeTCP)

	p := NewInputRegisters(f, 3, 1)
	msg := comm.NewMessage(d, ctl(1), nil)
	msg.Add(p)
	require.NoError(t, msg.QueryProps())
	assert.Equal(t, []uint16{99}, p.Values)

	msg.Reset()
	msg.Add(p)
	err := msg.StoreProps()
	assert.ErrorIs(t, err, comm.KindUnsupported)
	assert.Equal(t, 0, d.out.Len())
}

func TestRegisterLimits(t *testing.T) {
	f := mustFramer(t, ModeRTU)
	var buf bytes.Buffer
	assert.Error(t, NewRegisters(f, 0, 0).EncodeQuery(ctl(1), &buf))
	assert.Error(t, NewRegisters(f, 0, 126).EncodeQuery(ctl(1), &buf))
	assert.Error(t, NewRegisters(f, 0, 1).EncodeStore(ctl(1), &buf))
	assert.Zero(t, buf.Len())

	_, err := NewFramer("ascii")
	assert.Error(t, err)
}
