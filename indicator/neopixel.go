package indicator

import (
	"fmt"
	"io"
	"os"
)

// Commands for the external neopixel tool: solid green while the activity
// LED is lit, a dim blue standby otherwise, dark once released.
const (
	neoLit     = "@0 00ff00"
	neoStandby = "@0 000010"
	neoDark    = "@0 000000"
)

// Neopixel mirrors an actuator on a strip driven by an external neopixel
// tool listening on a named pipe.
type Neopixel struct {
	pipe io.WriteCloser
}

// NewNeopixel opens the neopixel tool's pipe.
func NewNeopixel(pipePath string) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}
	n := &Neopixel{pipe: f}
	n.Off()
	return n, nil
}

// On implements Actuator.On.
func (n *Neopixel) On() {
	n.write(neoLit)
}

// Off implements Actuator.Off.
func (n *Neopixel) Off() {
	n.write(neoStandby)
}

// Release implements Actuator.Release.
func (n *Neopixel) Release() error {
	if n.pipe == nil {
		return nil
	}
	n.write(neoDark)
	return n.pipe.Close()
}

func (n *Neopixel) write(s string) {
	if n.pipe != nil {
		n.pipe.Write([]byte(s))
	}
}
