// internal/protocol/modbus/ops.go
package modbus

import (
	"context"

	"github.com/tamzrod/fieldcomm/internal/comm"
)

// QueryRegisters reads count holding registers and hands them to fn.
func QueryRegisters(f *Framer, c *comm.Controller, p comm.Priority, address, count uint16, fn func([]uint16), opts ...comm.OpOption) *comm.Operation {
	prop := NewRegisters(f, address, count)
	return comm.NewOperation("query_registers", p, c, func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
		msg.Add(prop)
		if err := msg.QueryProps(); err != nil {
			return nil, err
		}
		if fn != nil {
			fn(prop.Values)
		}
		return nil, nil
	}, opts...)
}

// StoreRegisters writes values starting at address, as a command.
func StoreRegisters(f *Framer, c *comm.Controller, address uint16, values []uint16, opts ...comm.OpOption) *comm.Operation {
	prop := NewRegisters(f, address, uint16(len(values)))
	prop.Values = append([]uint16(nil), values...)
	return comm.NewOperation("store_registers", comm.PriorityCommand, c, func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
		msg.Add(prop)
		return nil, msg.StoreProps()
	}, opts...)
}
