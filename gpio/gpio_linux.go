//go:build linux

package gpio

import (
	"fmt"

	"github.com/hjkoskel/govattu"
	"github.com/warthog618/go-gpiocdev"
	memgpio "github.com/warthog618/gpio"
)

const consumer = "fobreader"

func open(cfg Config) (Opener, error) {
	switch cfg.Backend {
	case BackendGPIOMem:
		if err := memgpio.Open(); err != nil {
			return nil, fmt.Errorf("open gpiomem: %w", err)
		}
		return &memOpener{}, nil
	case BackendBCM:
		hw, err := govattu.Open()
		if err != nil {
			return nil, fmt.Errorf("open gpio: %w", err)
		}
		return &bcmOpener{hw: hw}, nil
	default:
		return &cdevOpener{chip: cfg.Chip}, nil
	}
}

// cdevOpener requests lines from the GPIO character device.
type cdevOpener struct {
	chip string
}

func (o *cdevOpener) Output(pin int, activeLow bool) (Output, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsOutput(0),
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := gpiocdev.RequestLine(o.chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request output %s:%d: %w", o.chip, pin, err)
	}
	return &cdevLine{line: l}, nil
}

func (o *cdevOpener) Input(pin int, pullUp bool) (Input, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(consumer),
		gpiocdev.AsInput,
	}
	if pullUp {
		opts = append(opts, gpiocdev.WithPullUp)
	}
	l, err := gpiocdev.RequestLine(o.chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input %s:%d: %w", o.chip, pin, err)
	}
	return &cdevLine{line: l}, nil
}

func (o *cdevOpener) Close() error {
	return nil
}

type cdevLine struct {
	line *gpiocdev.Line
}

func (c *cdevLine) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return c.line.SetValue(v)
}

func (c *cdevLine) Read() (bool, error) {
	v, err := c.line.Value()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

func (c *cdevLine) Close() error {
	return c.line.Close()
}

// memOpener drives pins through the /dev/gpiomem register mapping.
type memOpener struct{}

func (o *memOpener) Output(pin int, activeLow bool) (Output, error) {
	p := memgpio.NewPin(pin)
	p.Output()
	m := &memPin{pin: p, activeLow: activeLow}
	m.Set(false)
	return m, nil
}

func (o *memOpener) Input(pin int, pullUp bool) (Input, error) {
	p := memgpio.NewPin(pin)
	p.Input()
	if pullUp {
		p.PullUp()
	}
	return &memPin{pin: p}, nil
}

func (o *memOpener) Close() error {
	return memgpio.Close()
}

type memPin struct {
	pin       *memgpio.Pin
	activeLow bool
}

func (m *memPin) Set(on bool) error {
	if on != m.activeLow {
		m.pin.High()
	} else {
		m.pin.Low()
	}
	return nil
}

func (m *memPin) Read() (bool, error) {
	return m.pin.Read() == memgpio.High, nil
}

func (m *memPin) Close() error {
	return nil
}

// bcmOpener drives outputs through direct BCM283x register access.
type bcmOpener struct {
	hw govattu.Vattu
}

func (o *bcmOpener) Output(pin int, activeLow bool) (Output, error) {
	o.hw.PinMode(uint8(pin), govattu.ALToutput)
	b := &bcmPin{hw: o.hw, pin: uint8(pin), activeLow: activeLow}
	b.Set(false)
	return b, nil
}

func (o *bcmOpener) Input(pin int, pullUp bool) (Input, error) {
	return nil, fmt.Errorf("pin %d: %w", pin, ErrInputUnsupported)
}

func (o *bcmOpener) Close() error {
	return o.hw.Close()
}

type bcmPin struct {
	hw        govattu.Vattu
	pin       uint8
	activeLow bool
}

func (b *bcmPin) Set(on bool) error {
	if on != b.activeLow {
		b.hw.PinSet(b.pin)
	} else {
		b.hw.PinClear(b.pin)
	}
	return nil
}

func (b *bcmPin) Close() error {
	return b.Set(false)
}
