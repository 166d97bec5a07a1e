package bus

import (
	"errors"
	"fmt"
)

// Framing bytes of the serial bus.
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// HostStation is the station number of the bus master.
const HostStation = 0x00

// MaxPayload is the largest payload a frame may carry.
const MaxPayload = 32

const (
	crcInitial    = 0xFFFF
	crcPolynomial = 0x1021
)

// Frame errors.
var (
	ErrCRC          = errors.New("frame crc mismatch")
	ErrFrameLength  = errors.New("frame length out of range")
	ErrFrameAborted = errors.New("frame ended early")
)

// Frame is one decoded bus frame.
type Frame struct {
	Dst     byte
	Src     byte
	Payload []byte
}

// CRC16 computes CRC-16-CCITT over data.
func CRC16(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Encode returns the wire form of f, including framing and byte stuffing.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("payload %d bytes: %w", len(f.Payload), ErrFrameLength)
	}

	data := make([]byte, 0, 3+len(f.Payload)+2)
	data = append(data, f.Dst, f.Src, byte(len(f.Payload)))
	data = append(data, f.Payload...)
	crc := CRC16(data)
	data = append(data, byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(data)*2+2)
	out = append(out, StartByte)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
			continue
		}
		out = append(out, b)
	}
	out = append(out, EndByte)
	return out, nil
}

const (
	stateIdle = iota
	stateDst
	stateSrc
	stateLength
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	state   int
	escaped bool
	frame   Frame
	length  int
	crc     uint16
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.escaped = false
	d.frame = Frame{}
	d.length = 0
	d.crc = 0
}

// DecodeByte feeds one received byte. It returns a frame once the end byte
// of a valid frame arrives, or an error when a frame is discarded.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	if d.escaped {
		d.escaped = false
		return nil, d.push(b ^ EscXor)
	}

	switch b {
	case StartByte:
		d.Reset()
		d.state = stateDst
		return nil, nil
	case EscByte:
		if d.state != stateIdle {
			d.escaped = true
		}
		return nil, nil
	case EndByte:
		if d.state == stateIdle {
			return nil, nil
		}
		if d.state != stateEnd {
			d.Reset()
			return nil, ErrFrameAborted
		}
		f := d.frame
		data := make([]byte, 0, 3+len(f.Payload))
		data = append(data, f.Dst, f.Src, byte(len(f.Payload)))
		data = append(data, f.Payload...)
		want := CRC16(data)
		got := d.crc
		d.Reset()
		if want != got {
			return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRC, want, got)
		}
		return &f, nil
	}

	return nil, d.push(b)
}

func (d *Decoder) push(b byte) error {
	switch d.state {
	case stateIdle:
		// Noise between frames.
	case stateDst:
		d.frame.Dst = b
		d.state = stateSrc
	case stateSrc:
		d.frame.Src = b
		d.state = stateLength
	case stateLength:
		if int(b) > MaxPayload {
			d.Reset()
			return fmt.Errorf("length %d: %w", b, ErrFrameLength)
		}
		d.length = int(b)
		d.frame.Payload = make([]byte, 0, b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.frame.Payload = append(d.frame.Payload, b)
		if len(d.frame.Payload) == d.length {
			d.state = stateCRC1
		}
	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2
	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd
	case stateEnd:
		d.Reset()
		return fmt.Errorf("%w: trailing byte 0x%02X", ErrFrameAborted, b)
	}
	return nil
}
