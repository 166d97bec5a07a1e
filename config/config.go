// Package config loads the reader's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"fobreader/address"
	"fobreader/bus"
	"fobreader/gpio"
	"fobreader/indicator"
	"fobreader/mqtt"
	"fobreader/protocol"
	"fobreader/reader"
)

// DefaultFile is the configuration file read when none is named.
const DefaultFile = "fobreader.cfg"

// Config is the main configuration structure.
type Config struct {
	// Firmware version string reported to the host
	Firmware string `yaml:"firmware"`

	// Reader poll interval
	PollMS int `yaml:"poll_ms"`

	// Log every bus command
	Verbose bool `yaml:"verbose"`

	GPIO      gpio.Config      `yaml:"gpio"`
	Address   address.Config   `yaml:"address"`
	Bus       bus.Config       `yaml:"bus"`
	Reader    reader.Config    `yaml:"reader"`
	Indicator indicator.Config `yaml:"indicator"`
	MQTT      mqtt.Config      `yaml:"mqtt"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() Config {
	return Config{
		Firmware: "1.0",
		PollMS:   50,
		GPIO: gpio.Config{
			Backend: gpio.BackendCdev,
			Chip:    "gpiochip0",
		},
		Address: address.Config{
			Pins:     []int{11, 10, 9},
			SettleMS: 1,
		},
		Bus: bus.Config{
			Type:     bus.TypeSerial,
			Protocol: "canonical",
			Device:   "/dev/serial0",
			Baud:     115200,
		},
		Reader: reader.Config{
			Type:   reader.TypeSPI,
			Device: "/dev/spidev0.0",
		},
		Indicator: indicator.Config{
			CadenceMS: int(indicator.DefaultCadence / time.Millisecond),
			Repeats:   indicator.DefaultRepeats,
		},
		MQTT: mqtt.Config{
			Encoding:    mqtt.EncodingJSON,
			PingSeconds: int(mqtt.DefaultPing / time.Second),
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads YAML from r over the defaults and validates the result.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := protocol.ValidateFirmware(c.Firmware); err != nil {
		return fmt.Errorf("firmware: %w", err)
	}
	if c.PollMS <= 0 {
		return fmt.Errorf("poll_ms must be positive, got %d", c.PollMS)
	}
	if _, err := protocol.TableByName(c.Bus.Protocol); err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	checks := []struct {
		name string
		err  error
	}{
		{"gpio", c.GPIO.Validate()},
		{"address", c.Address.Validate()},
		{"bus", c.Bus.Validate()},
		{"reader", c.Reader.Validate()},
		{"mqtt", c.MQTT.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%s: %w", ch.name, ch.err)
		}
	}
	return nil
}

// PollInterval returns the reader poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollMS) * time.Millisecond
}
