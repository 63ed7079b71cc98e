// internal/protocol/cohu/cohu.go

// Package cohu encodes Cohu PTZ camera commands. Frames are
// 0xF8, drop, command bytes, checksum; cameras send no acknowledgement.
package cohu

import (
	"context"
	"fmt"
	"io"

	"github.com/tamzrod/fieldcomm/internal/comm"
	"github.com/tamzrod/fieldcomm/internal/framing"
)

const (
	startByte = 0xF8
	MaxPreset = 64
)

var (
	cmdReset       = []byte{0x72, 0x73}
	cmdStorePreset = byte('P')
)

// encode writes one frame; the checksum covers drop and command bytes.
func encode(w io.Writer, drop int, cmd ...byte) error {
	if drop < 1 || drop > 223 {
		return comm.Errorf(comm.KindError, "cohu: drop %d out of range", drop)
	}
	buf := make([]byte, 0, 3+len(cmd))
	buf = append(buf, startByte, byte(drop))
	buf = append(buf, cmd...)
	buf = append(buf, framing.Sum7(buf[1:]))
	_, err := w.Write(buf)
	return err
}

// command is a store-only property with no response.
type command struct {
	comm.Unsupported
	name string
	cmd  []byte
}

func (p *command) String() string { return p.name }

func (p *command) EncodeStore(c *comm.Controller, w io.Writer) error {
	return encode(w, c.Drop, p.cmd...)
}

func (p *command) DecodeStore(*comm.Controller, io.Reader) error { return nil }

// ResetCameraProperty reboots the camera.
func ResetCameraProperty() comm.Property {
	return &command{name: "reset_camera", cmd: cmdReset}
}

// StorePresetProperty saves the current position as preset 1..MaxPreset.
func StorePresetProperty(preset int) (comm.Property, error) {
	if preset < 1 || preset > MaxPreset {
		return nil, fmt.Errorf("cohu: preset %d out of range", preset)
	}
	return &command{
		name: fmt.Sprintf("store_preset(%d)", preset),
		cmd:  []byte{cmdStorePreset, byte(preset)},
	}, nil
}

func ResetCamera(c *comm.Controller, opts ...comm.OpOption) *comm.Operation {
	return storeOp("reset_camera", c, ResetCameraProperty(), opts)
}

func StorePreset(c *comm.Controller, preset int, opts ...comm.OpOption) (*comm.Operation, error) {
	p, err := StorePresetProperty(preset)
	if err != nil {
		return nil, err
	}
	return storeOp("store_preset", c, p, opts), nil
}

func storeOp(name string, c *comm.Controller, p comm.Property, opts []comm.OpOption) *comm.Operation {
	return comm.NewOperation(name, comm.PriorityCommand, c, func(ctx context.Context, msg *comm.Message) (comm.Phase, error) {
		msg.Add(p)
		return nil, msg.StoreProps()
	}, opts...)
}
