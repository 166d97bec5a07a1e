// Package indicator drives the reader's user feedback: an activity LED and
// a buzzer that signal card accept and reject, plus a power LED.
package indicator

import (
	"fmt"
	"time"

	"fobreader/gpio"
)

// Actuator is a single on/off output such as an LED or a buzzer.
type Actuator interface {
	On()
	Off()

	// Release turns the actuator off and frees its hardware.
	Release() error
}

// Config holds configuration for the feedback outputs.
type Config struct {
	// GPIO pins (nil = not configured)
	ActivityLEDPin *int `yaml:"activity_led_pin"`
	BuzzerPin      *int `yaml:"buzzer_pin"`
	PowerLEDPin    *int `yaml:"power_led_pin"`
	ActiveLow      bool `yaml:"active_low"`

	// Neopixel pipe path mirroring the activity LED (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`

	// Reject sequence timing
	CadenceMS int `yaml:"cadence_ms"`
	Repeats   int `yaml:"repeats"`
}

// Reject sequence defaults.
const (
	DefaultCadence = 200 * time.Millisecond
	DefaultRepeats = 3
)

// New creates the feedback controller described by cfg, using pins for any
// GPIO outputs. Unconfigured outputs are no-ops.
func New(cfg Config, pins gpio.Opener) (*Feedback, error) {
	var opened []Actuator
	fail := func(err error) (*Feedback, error) {
		for _, a := range opened {
			a.Release()
		}
		return nil, err
	}

	pin := func(name string, p *int) (Actuator, error) {
		if p == nil {
			return Noop{}, nil
		}
		out, err := pins.Output(*p, cfg.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("%s pin %d: %w", name, *p, err)
		}
		a := NewPin(out)
		opened = append(opened, a)
		return a, nil
	}

	led, err := pin("activity led", cfg.ActivityLEDPin)
	if err != nil {
		return fail(err)
	}
	buzzer, err := pin("buzzer", cfg.BuzzerPin)
	if err != nil {
		return fail(err)
	}
	power, err := pin("power led", cfg.PowerLEDPin)
	if err != nil {
		return fail(err)
	}

	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe)
		if err != nil {
			return fail(err)
		}
		led = NewMulti(led, neo)
	}

	f := NewFeedback(led, buzzer, power)
	if cfg.CadenceMS > 0 {
		f.Cadence = time.Duration(cfg.CadenceMS) * time.Millisecond
	}
	if cfg.Repeats > 0 {
		f.Repeats = cfg.Repeats
	}
	return f, nil
}
