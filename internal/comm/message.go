// internal/comm/message.go
package comm

import (
	"go.uber.org/zap"
)

// Message binds a messenger and a controller to the properties queued for
// one exchange. A fresh Message is built for every scheduler tick.
type Message struct {
	m     Messenger
	c     *Controller
	trace *zap.Logger

	props   []Property
	decoded int
	failed  Property
}

// NewMessage creates an empty message. trace receives one debug entry per
// property exchanged; nil disables it.
func NewMessage(m Messenger, c *Controller, trace *zap.Logger) *Message {
	if trace == nil {
		trace = zap.NewNop()
	}
	return &Message{m: m, c: c, trace: trace}
}

func (msg *Message) Controller() *Controller { return msg.c }

// Add queues a property. Properties are exchanged in add order.
func (msg *Message) Add(p Property) {
	msg.props = append(msg.props, p)
}

// Reset drops every queued property so the message can carry a new batch.
func (msg *Message) Reset() {
	msg.props = msg.props[:0]
	msg.decoded = 0
	msg.failed = nil
}

// Decoded returns the properties whose responses were decoded by the last
// exchange, in add order.
func (msg *Message) Decoded() []Property {
	return msg.props[:msg.decoded]
}

// Failed returns the property whose encode or decode aborted the last
// exchange, or nil.
func (msg *Message) Failed() Property { return msg.failed }

// QueryProps sends a query for every queued property, then decodes one
// response per property in the same order. Any error aborts the rest.
func (msg *Message) QueryProps() error {
	return msg.exchange(false)
}

// StoreProps is QueryProps for writes.
func (msg *Message) StoreProps() error {
	return msg.exchange(true)
}

func (msg *Message) exchange(store bool) error {
	msg.decoded = 0
	msg.failed = nil
	if err := msg.m.Drain(); err != nil {
		return err
	}
	w, err := msg.m.Output(msg.c)
	if err != nil {
		return err
	}
	for _, p := range msg.props {
		if store {
			msg.log(":=", p)
			err = p.EncodeStore(msg.c, w)
		} else {
			err = p.EncodeQuery(msg.c, w)
		}
		if err != nil {
			msg.failed = p
			return err
		}
	}
	if err := msg.m.Flush(); err != nil {
		return err
	}
	r, err := msg.m.Input(msg.c)
	if err != nil {
		return err
	}
	for _, p := range msg.props {
		if store {
			err = p.DecodeStore(msg.c, r)
		} else {
			err = p.DecodeQuery(msg.c, r)
		}
		if err != nil {
			msg.failed = p
			return err
		}
		msg.decoded++
		if store {
			msg.log(":=ok", p)
		} else {
			msg.log(":", p)
		}
	}
	return nil
}

func (msg *Message) log(dir string, p Property) {
	if ce := msg.trace.Check(zap.DebugLevel, "exchange"); ce != nil {
		ce.Write(
			zap.String("controller", msg.c.Name),
			zap.String("dir", dir),
			zap.Stringer("property", p),
		)
	}
}
