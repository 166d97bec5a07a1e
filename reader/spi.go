package reader

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	defaultSPIFreq = 4 * physic.MegaHertz
	spiMode        = spi.Mode0
	spiReadBit     = 0x80
)

type txer interface {
	Tx(w, r []byte) error
}

// SPILink implements Link over SPI. The address byte is (reg<<1)&0x7E with
// bit 7 set for reads.
type SPILink struct {
	port spi.PortCloser
	conn txer
}

// OpenSPI opens the named SPI port, e.g. "/dev/spidev0.0" or "SPI0.0".
func OpenSPI(portName string, hz int) (*SPILink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialize periph host: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("open spi %s: %w", portName, err)
	}

	freq := defaultSPIFreq
	if hz > 0 {
		freq = physic.Frequency(hz) * physic.Hertz
	}
	conn, err := port.Connect(freq, spiMode, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("connect spi %s: %w", portName, err)
	}

	return &SPILink{port: port, conn: conn}, nil
}

func spiAddress(reg byte) byte {
	return (reg << 1) & 0x7E
}

// WriteRegister implements Link.WriteRegister.
func (s *SPILink) WriteRegister(reg byte, values ...byte) error {
	w := make([]byte, 0, len(values)+1)
	w = append(w, spiAddress(reg))
	w = append(w, values...)
	if err := s.conn.Tx(w, nil); err != nil {
		return fmt.Errorf("spi write 0x%02X: %w", reg, err)
	}
	return nil
}

// ReadRegister implements Link.ReadRegister.
func (s *SPILink) ReadRegister(reg byte) (byte, error) {
	v, err := s.ReadRegisters(reg, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// ReadRegisters implements Link.ReadRegisters. The address is clocked out
// n times followed by a zero byte; each answer lags its address by one byte.
func (s *SPILink) ReadRegisters(reg byte, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	addr := spiReadBit | spiAddress(reg)
	w := make([]byte, n+1)
	for i := 0; i < n; i++ {
		w[i] = addr
	}
	r := make([]byte, n+1)
	if err := s.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("spi read 0x%02X: %w", reg, err)
	}
	return r[1:], nil
}

// Close implements Link.Close.
func (s *SPILink) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
