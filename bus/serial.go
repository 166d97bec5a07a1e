package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"

	"fobreader/gpio"
	"fobreader/internal/syncutil"
)

const readTimeout = 50 * time.Millisecond

// Serial is the framed serial transport. Frames addressed to station are
// accepted; replies go back to HostStation.
type Serial struct {
	port    serial.Port
	station byte
	de      gpio.Output
	useRTS  bool

	mu syncutil.Mutex
}

// OpenSerial opens the serial device named in cfg.
func OpenSerial(cfg Config, station byte, de gpio.Output) (*Serial, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}

	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	s, err := prepareSerial(p, station, de, cfg.DriverEnable == DriverEnableRTS)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("serial %s: %w", cfg.Device, err)
	}
	return s, nil
}

// prepareSerial sets the read timeout Listen relies on to notice
// cancellation and releases the driver-enable line.
func prepareSerial(p serial.Port, station byte, de gpio.Output, useRTS bool) (*Serial, error) {
	if err := p.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	s := NewSerial(p, station, de, useRTS)
	if err := s.driverEnable(false); err != nil {
		return nil, fmt.Errorf("release driver enable: %w", err)
	}
	return s, nil
}

// NewSerial wraps an open port. de, if not nil, is raised while
// transmitting; useRTS does the same with the port's RTS line.
func NewSerial(port serial.Port, station byte, de gpio.Output, useRTS bool) *Serial {
	return &Serial{port: port, station: station, de: de, useRTS: useRTS}
}

// Listen implements Transport.Listen.
func (s *Serial) Listen(ctx context.Context, sink func(cmd byte)) error {
	var dec Decoder
	buf := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			return fmt.Errorf("read serial: %w", err)
		}

		for _, b := range buf[:n] {
			f, err := dec.DecodeByte(b)
			if err != nil {
				log.Printf("Bus frame dropped: %v", err)
				continue
			}
			if f == nil || f.Dst != s.station {
				continue
			}
			if len(f.Payload) != 1 {
				log.Printf("Bus frame with %d byte payload ignored", len(f.Payload))
				continue
			}
			sink(f.Payload[0])
		}
	}
}

// Write implements Transport.Write.
func (s *Serial) Write(reply []byte) error {
	wire, err := Encode(Frame{Dst: HostStation, Src: s.station, Payload: reply})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.driverEnable(true); err != nil {
		return fmt.Errorf("driver enable: %w", err)
	}
	_, werr := s.port.Write(wire)
	if werr == nil {
		werr = s.port.Drain()
	}
	if err := s.driverEnable(false); err != nil && werr == nil {
		werr = fmt.Errorf("driver enable: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("write serial: %w", werr)
	}
	return nil
}

func (s *Serial) driverEnable(on bool) error {
	if s.useRTS {
		if err := s.port.SetRTS(on); err != nil {
			return err
		}
	}
	if s.de != nil {
		return s.de.Set(on)
	}
	return nil
}

// Close implements Transport.Close.
func (s *Serial) Close() error {
	err := s.port.Close()
	if s.de != nil {
		if derr := s.de.Close(); err == nil {
			err = derr
		}
	}
	return err
}

// ErrNoReply is returned by Request when no reply arrives in time.
var ErrNoReply = errors.New("no reply from station")

// Request is the host side of the serial bus: it sends cmd to station and
// waits up to timeout for the station's reply payload.
func Request(port serial.Port, station, cmd byte, timeout time.Duration) ([]byte, error) {
	wire, err := Encode(Frame{Dst: station, Src: HostStation, Payload: []byte{cmd}})
	if err != nil {
		return nil, err
	}
	if _, err := port.Write(wire); err != nil {
		return nil, fmt.Errorf("write serial: %w", err)
	}

	var dec Decoder
	buf := make([]byte, 64)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read serial: %w", err)
		}
		for _, b := range buf[:n] {
			f, err := dec.DecodeByte(b)
			if err != nil {
				log.Printf("Bus frame dropped: %v", err)
				continue
			}
			if f != nil && f.Dst == HostStation && f.Src == station {
				return f.Payload, nil
			}
		}
	}
	return nil, fmt.Errorf("station 0x%02X: %w", station, ErrNoReply)
}
