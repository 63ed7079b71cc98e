// internal/comm/property.go
package comm

import (
	"fmt"
	"io"
)

// Controller is an addressable device endpoint on a link.
// It owns no transport.
type Controller struct {
	Name string
	Link string
	Drop int   // link-relative address
	Pins []int // device pins (logical sub-channels)
}

func (c *Controller) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.Name
}

// HasPin reports whether pin is one of the controller's device pins.
func (c *Controller) HasPin(pin int) bool {
	for _, p := range c.Pins {
		if p == pin {
			return true
		}
	}
	return false
}

// Property is one logical value exchanged with a controller.
// Encoders write a complete framed request; decoders read exactly one framed
// response. Framing and checksums never leak to callers. Encoding must be
// repeatable: retries encode the same property again.
type Property interface {
	EncodeQuery(c *Controller, w io.Writer) error
	DecodeQuery(c *Controller, r io.Reader) error
	EncodeStore(c *Controller, w io.Writer) error
	DecodeStore(c *Controller, r io.Reader) error
	fmt.Stringer
}

// Unsupported can be embedded by properties that implement only some
// directions. Every method fails with KindUnsupported.
type Unsupported struct{}

func (Unsupported) EncodeQuery(*Controller, io.Writer) error {
	return Unsupportedf("query not supported")
}

func (Unsupported) DecodeQuery(*Controller, io.Reader) error {
	return Unsupportedf("query not supported")
}

func (Unsupported) EncodeStore(*Controller, io.Writer) error {
	return Unsupportedf("store not supported")
}

func (Unsupported) DecodeStore(*Controller, io.Reader) error {
	return Unsupportedf("store not supported")
}
