package indicator

import (
	"log"

	"fobreader/gpio"
)

// Pin implements Actuator on a single GPIO output.
type Pin struct {
	out gpio.Output
}

// NewPin wraps out and drives it to its inactive level.
func NewPin(out gpio.Output) *Pin {
	p := &Pin{out: out}
	p.Off()
	return p
}

// On implements Actuator.On.
func (p *Pin) On() {
	p.set(true)
}

// Off implements Actuator.Off.
func (p *Pin) Off() {
	p.set(false)
}

// Release implements Actuator.Release.
func (p *Pin) Release() error {
	p.Off()
	return p.out.Close()
}

func (p *Pin) set(on bool) {
	if err := p.out.Set(on); err != nil {
		log.Printf("Indicator pin: %v", err)
	}
}
