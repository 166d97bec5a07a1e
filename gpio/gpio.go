// Package gpio gives the rest of the firmware single-line access to GPIO
// pins through one of three backends: the Linux GPIO character device
// ("cdev"), the Raspberry Pi /dev/gpiomem mapping ("gpiomem"), or direct
// BCM283x register access ("bcm", outputs only).
package gpio

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned when GPIO is unavailable on this platform.
var ErrNotSupported = errors.New("gpio not supported on this platform")

// ErrInputUnsupported is returned by backends that can only drive outputs.
var ErrInputUnsupported = errors.New("gpio backend does not support inputs")

// Output is a single output line.
type Output interface {
	// Set drives the line to its active (true) or inactive level.
	Set(on bool) error

	// Close releases the line.
	Close() error
}

// Input is a single input line.
type Input interface {
	// Read returns true when the line is at its high level.
	Read() (bool, error)

	// Close releases the line.
	Close() error
}

// Opener hands out lines from one backend.
type Opener interface {
	Output(pin int, activeLow bool) (Output, error)
	Input(pin int, pullUp bool) (Input, error)

	// Close releases the backend. Lines should be closed first.
	Close() error
}

// Config selects and configures the backend.
type Config struct {
	Backend string `yaml:"backend"` // "cdev" (default), "gpiomem", "bcm"
	Chip    string `yaml:"chip"`    // cdev only, e.g. "gpiochip0"
}

// Backend names.
const (
	BackendCdev    = "cdev"
	BackendGPIOMem = "gpiomem"
	BackendBCM     = "bcm"
)

// Validate checks the backend name.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendCdev, BackendGPIOMem, BackendBCM:
		return nil
	default:
		return fmt.Errorf("unknown gpio backend %q", c.Backend)
	}
}

// New opens the configured backend.
func New(cfg Config) (Opener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendCdev
	}
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	return open(cfg)
}

// Noop is an Output that does nothing. It stands in for unconfigured pins.
type Noop struct{}

// Set implements Output.Set.
func (Noop) Set(bool) error { return nil }

// Close implements Output.Close.
func (Noop) Close() error { return nil }
