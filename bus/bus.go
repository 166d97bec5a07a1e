// Package bus carries single-byte host commands in and reply packets out.
// Two transports exist: a framed, addressed serial bus (RS-485 style) and
// an addressed register bus backed by the Linux I2C slave interface. Both
// are strictly half duplex: the device only ever transmits in answer to a
// command.
package bus

import (
	"context"
	"errors"
	"fmt"

	"fobreader/address"
	"fobreader/gpio"
)

// ErrNotSupported is returned when a transport is unavailable on this platform.
var ErrNotSupported = errors.New("bus transport not supported on this platform")

// Transport is a host-facing bus.
type Transport interface {
	// Listen receives commands until ctx is cancelled or the transport
	// fails, passing each command byte to sink. sink must not block.
	Listen(ctx context.Context, sink func(cmd byte)) error

	// Write sends one reply to the host.
	Write(reply []byte) error

	Close() error
}

// Transport types.
const (
	TypeSerial   = "serial"
	TypeRegister = "register"
)

// Driver-enable modes for the serial transport.
const (
	DriverEnableNone = ""
	DriverEnableRTS  = "rts"
	DriverEnableGPIO = "gpio"
)

// Config selects and configures the host transport.
type Config struct {
	Type     string `yaml:"type"`     // "serial" (default), "register"
	Protocol string `yaml:"protocol"` // "canonical" (default), "legacy"

	// Serial transport.
	Device          string `yaml:"device"` // e.g. "/dev/ttyAMA0"
	Baud            int    `yaml:"baud"`
	DriverEnable    string `yaml:"driver_enable"` // "", "rts", "gpio"
	DriverEnablePin int    `yaml:"driver_enable_pin"`

	// Register transport.
	Adapter     int    `yaml:"adapter"`      // I2C adapter number
	SlaveDriver string `yaml:"slave_driver"` // kernel slave backend name
	SlaveDevice string `yaml:"slave_device"` // character device it exposes
}

// Validate checks the transport type and its settings.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeSerial:
		if c.Device == "" {
			return errors.New("serial bus needs a device")
		}
		switch c.DriverEnable {
		case DriverEnableNone, DriverEnableRTS, DriverEnableGPIO:
		default:
			return fmt.Errorf("unknown driver_enable %q", c.DriverEnable)
		}
	case TypeRegister:
		if c.SlaveDriver == "" || c.SlaveDevice == "" {
			return errors.New("register bus needs slave_driver and slave_device")
		}
	default:
		return fmt.Errorf("unknown bus type %q", c.Type)
	}
	return nil
}

// New opens the configured transport at addr. The GPIO opener is used for
// a driver-enable line, if one is configured.
func New(cfg Config, addr address.Address, pins gpio.Opener) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeRegister:
		r, err := OpenRegister(cfg, addr)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		var de gpio.Output
		if cfg.DriverEnable == DriverEnableGPIO {
			out, err := pins.Output(cfg.DriverEnablePin, false)
			if err != nil {
				return nil, fmt.Errorf("driver enable pin %d: %w", cfg.DriverEnablePin, err)
			}
			de = out
		}
		s, err := OpenSerial(cfg, byte(addr), de)
		if err != nil {
			if de != nil {
				de.Close()
			}
			return nil, err
		}
		return s, nil
	}
}
