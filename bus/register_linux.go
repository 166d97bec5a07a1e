//go:build linux

package bus

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"fobreader/address"
)

// i2cOwnAddress marks a new_device entry as a slave at our own address.
const i2cOwnAddress = 0x1000

var sysfsI2C = "/sys/bus/i2c/devices"

// OpenRegister registers a slave backend at addr on the configured I2C
// adapter and opens the character device it exposes.
func OpenRegister(cfg Config, addr address.Address) (*Register, error) {
	adapter := fmt.Sprintf("%s/i2c-%d", sysfsI2C, cfg.Adapter)
	slaveAddr := i2cOwnAddress | int(addr)

	entry := fmt.Sprintf("%s 0x%04x", cfg.SlaveDriver, slaveAddr)
	if err := os.WriteFile(adapter+"/new_device", []byte(entry), 0); err != nil {
		return nil, fmt.Errorf("register i2c slave %s at %s: %w", cfg.SlaveDriver, addr, err)
	}

	fd, err := unix.Open(cfg.SlaveDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		removeSlave(adapter, slaveAddr)
		return nil, fmt.Errorf("open %s: %w", cfg.SlaveDevice, err)
	}

	log.Printf("I2C slave %s on adapter %d via %s", addr, cfg.Adapter, cfg.SlaveDevice)
	return &Register{
		conn: &fdConn{fd: fd, adapter: adapter, slaveAddr: slaveAddr},
		addr: byte(addr),
	}, nil
}

func removeSlave(adapter string, slaveAddr int) error {
	return os.WriteFile(adapter+"/delete_device", []byte(fmt.Sprintf("0x%04x", slaveAddr)), 0)
}

type fdConn struct {
	fd        int
	adapter   string
	slaveAddr int
}

func (c *fdConn) recv(buf []byte, wait time.Duration) (int, error) {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(wait/time.Millisecond))
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		return 0, nil
	}

	n, err = unix.Read(c.fd, buf)
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	return n, nil
}

func (c *fdConn) send(reply []byte) error {
	_, err := unix.Write(c.fd, reply)
	return err
}

func (c *fdConn) close() error {
	err := unix.Close(c.fd)
	if rerr := removeSlave(c.adapter, c.slaveAddr); err == nil {
		err = rerr
	}
	return err
}
