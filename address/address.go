// Package address derives the device's bus address from three
// address-select jumpers. The address is read once at boot and never
// changes afterwards.
package address

import (
	"fmt"
	"time"

	"fobreader/gpio"
)

// Base is the address of a device with all jumpers closed.
const Base = 0x10

// NumPins is the number of address-select inputs.
const NumPins = 3

// Address is a bus address in [Base, Base+7].
type Address byte

func (a Address) String() string {
	return fmt.Sprintf("0x%02X", byte(a))
}

// Offset returns the jumper value, 0..7.
func (a Address) Offset() int {
	return int(a) - Base
}

// Config describes the address-select inputs.
type Config struct {
	// Pins lists A0, A1, A2 in that order.
	Pins []int `yaml:"pins"`

	// SettleMS is the pull-up settle time per pin, at least 1.
	SettleMS int `yaml:"settle_ms"`

	// LSBFirst makes A0 the least significant bit. By default A0 is the
	// most significant bit.
	LSBFirst bool `yaml:"lsb_first"`
}

// Validate checks the pin list and settle time.
func (c Config) Validate() error {
	if len(c.Pins) != NumPins {
		return fmt.Errorf("address needs %d pins, got %d", NumPins, len(c.Pins))
	}
	if c.SettleMS < 1 {
		return fmt.Errorf("address settle time must be at least 1ms, got %d", c.SettleMS)
	}
	return nil
}

// Resolve reads each input after waiting settle for its pull-up, and
// combines the levels into an address. A high (open) jumper is a 1 bit.
func Resolve(inputs []gpio.Input, settle time.Duration, lsbFirst bool, sleep func(time.Duration)) (Address, error) {
	if len(inputs) != NumPins {
		return 0, fmt.Errorf("address needs %d inputs, got %d", NumPins, len(inputs))
	}
	if sleep == nil {
		sleep = time.Sleep
	}

	var offset byte
	for i, in := range inputs {
		sleep(settle)
		high, err := in.Read()
		if err != nil {
			return 0, fmt.Errorf("read address pin A%d: %w", i, err)
		}
		if !high {
			continue
		}
		if lsbFirst {
			offset |= 1 << i
		} else {
			offset |= 1 << (NumPins - 1 - i)
		}
	}

	return Address(Base + offset), nil
}

// Read opens the configured pins as pulled-up inputs, resolves the address
// and releases the pins again.
func Read(opener gpio.Opener, cfg Config) (Address, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	inputs := make([]gpio.Input, 0, len(cfg.Pins))
	defer func() {
		for _, in := range inputs {
			in.Close()
		}
	}()

	for i, pin := range cfg.Pins {
		in, err := opener.Input(pin, true)
		if err != nil {
			return 0, fmt.Errorf("open address pin A%d (%d): %w", i, pin, err)
		}
		inputs = append(inputs, in)
	}

	settle := time.Duration(cfg.SettleMS) * time.Millisecond
	return Resolve(inputs, settle, cfg.LSBFirst, nil)
}
