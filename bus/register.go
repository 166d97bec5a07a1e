package bus

import (
	"context"
	"fmt"
	"log"
	"time"
)

// slaveConn is one end of a register-bus slave backend. recv returns the
// bytes of one master write, or zero bytes if none arrived within wait.
type slaveConn interface {
	recv(buf []byte, wait time.Duration) (int, error)
	send(reply []byte) error
	close() error
}

// Register is the addressed register-bus transport. Each master write
// transaction of exactly one byte is a command; the reply is staged for
// the master's next read.
type Register struct {
	conn slaveConn
	addr byte
}

// Listen implements Transport.Listen.
func (r *Register) Listen(ctx context.Context, sink func(cmd byte)) error {
	buf := make([]byte, MaxPayload)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.conn.recv(buf, readTimeout)
		if err != nil {
			return fmt.Errorf("register bus 0x%02X: %w", r.addr, err)
		}
		switch {
		case n == 0:
		case n == 1:
			sink(buf[0])
		default:
			log.Printf("Register write of %d bytes ignored", n)
		}
	}
}

// Write implements Transport.Write.
func (r *Register) Write(reply []byte) error {
	if err := r.conn.send(reply); err != nil {
		return fmt.Errorf("register bus 0x%02X: %w", r.addr, err)
	}
	return nil
}

// Close implements Transport.Close.
func (r *Register) Close() error {
	return r.conn.close()
}
