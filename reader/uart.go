package reader

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

const (
	uartReadBit     = 0x80
	uartReadTimeout = 50 * time.Millisecond
)

// UARTLink implements Link over the chip's UART interface. The address
// byte is reg&0x3F with bit 7 set for reads; the chip echoes the address
// of every write.
type UARTLink struct {
	port io.ReadWriteCloser
}

// OpenUART opens the serial device the chip is wired to.
func OpenUART(device string, baud int) (*UARTLink, error) {
	if baud == 0 {
		baud = 9600
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: uartReadTimeout,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return &UARTLink{port: port}, nil
}

func (u *UARTLink) readByte() (byte, error) {
	buf := make([]byte, 1)
	n, err := u.port.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// WriteRegister implements Link.WriteRegister.
func (u *UARTLink) WriteRegister(reg byte, values ...byte) error {
	addr := reg & 0x3F
	for _, v := range values {
		if _, err := u.port.Write([]byte{addr, v}); err != nil {
			return fmt.Errorf("uart write 0x%02X: %w", reg, err)
		}
		echo, err := u.readByte()
		if err != nil {
			return fmt.Errorf("uart write 0x%02X: %w", reg, err)
		}
		if echo != addr {
			return fmt.Errorf("uart write 0x%02X: echo 0x%02X", reg, echo)
		}
	}
	return nil
}

// ReadRegister implements Link.ReadRegister.
func (u *UARTLink) ReadRegister(reg byte) (byte, error) {
	if _, err := u.port.Write([]byte{uartReadBit | reg&0x3F}); err != nil {
		return 0, fmt.Errorf("uart read 0x%02X: %w", reg, err)
	}
	v, err := u.readByte()
	if err != nil {
		return 0, fmt.Errorf("uart read 0x%02X: %w", reg, err)
	}
	return v, nil
}

// ReadRegisters implements Link.ReadRegisters.
func (u *UARTLink) ReadRegisters(reg byte, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		v, err := u.ReadRegister(reg)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Close implements Link.Close.
func (u *UARTLink) Close() error {
	if u.port == nil {
		return nil
	}
	return u.port.Close()
}
