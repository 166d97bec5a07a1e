package protocol

import (
	"errors"
	"fmt"

	"fobreader/tagcache"
)

// MaxPacketSize bounds every reply, discriminant included.
const MaxPacketSize = 32

// MaxFirmwareLen is the longest version string that fits a GET_FIRMWARE
// reply once the discriminant, length prefix and NUL are added.
const MaxFirmwareLen = MaxPacketSize - 3

// Reply sizes, discriminant included.
const (
	AckSize      = 1
	SelfTestSize = 2
	PresenceSize = 2
	VersionSize  = 2
	TagsSize     = 3 + tagcache.Size
)

// TagCount is the number of tags in a GET_TAGS reply. The cache holds a
// single tag.
const TagCount = 1

// Packet is a fixed-capacity reply buffer. It is a plain value; copies are
// independent.
type Packet struct {
	buf [MaxPacketSize]byte
	n   int
}

func (p *Packet) put(b ...byte) {
	p.n += copy(p.buf[p.n:], b)
}

// Bytes returns the encoded reply.
func (p Packet) Bytes() []byte {
	out := make([]byte, p.n)
	copy(out, p.buf[:p.n])
	return out
}

// Len returns the encoded length.
func (p Packet) Len() int {
	return p.n
}

// Discriminant returns the first byte of the reply.
func (p Packet) Discriminant() byte {
	return p.buf[0]
}

// String formats the packet as hex bytes.
func (p Packet) String() string {
	return fmt.Sprintf("% X", p.buf[:p.n])
}

// Reply is a decoded reply packet, as seen by the host.
type Reply struct {
	Entry     Entry
	Firmware  string
	Passed    bool
	Available bool
	Count     int
	Tag       tagcache.TagID
	Version   byte
}

// Decode errors.
var (
	ErrShortReply        = errors.New("reply too short")
	ErrWrongDiscriminant = errors.New("unexpected reply discriminant")
	ErrBadFirmware       = errors.New("malformed firmware payload")
)

// Decode parses a reply to entry's command. It is the host-side inverse of
// Encoder.Encode.
func Decode(entry Entry, raw []byte) (Reply, error) {
	r := Reply{Entry: entry}
	if len(raw) == 0 {
		return r, ErrShortReply
	}
	if raw[0] != entry.Discriminant {
		return r, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrWrongDiscriminant, raw[0], entry.Discriminant)
	}

	switch entry.Action {
	case ActionDetect, ActionAck, ActionBadCard:
		return r, nil

	case ActionFirmware:
		if len(raw) < 2 {
			return r, ErrShortReply
		}
		n := int(raw[1])
		if n == 0 || len(raw) < 2+n {
			return r, fmt.Errorf("%w: length %d, have %d bytes", ErrBadFirmware, n, len(raw)-2)
		}
		if raw[2+n-1] != 0x00 {
			return r, fmt.Errorf("%w: missing NUL terminator", ErrBadFirmware)
		}
		r.Firmware = string(raw[2 : 2+n-1])
		return r, nil

	case ActionSelfTest:
		if len(raw) < SelfTestSize {
			return r, ErrShortReply
		}
		r.Passed = raw[1] == 1
		return r, nil

	case ActionPresence:
		if len(raw) < PresenceSize {
			return r, ErrShortReply
		}
		r.Available = raw[1] == 1
		return r, nil

	case ActionVersion:
		if len(raw) < VersionSize {
			return r, ErrShortReply
		}
		r.Version = raw[1]
		return r, nil

	case ActionTags:
		if len(raw) < 3 {
			return r, ErrShortReply
		}
		r.Count = int(raw[1])
		size := int(raw[2])
		if len(raw) < 3+size {
			return r, ErrShortReply
		}
		r.Tag = tagcache.FromBytes(raw[3 : 3+size])
		return r, nil

	default:
		return r, fmt.Errorf("no decoder for %s", entry.Action)
	}
}
