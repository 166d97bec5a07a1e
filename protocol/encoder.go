package protocol

import (
	"errors"
	"fmt"

	"fobreader/tagcache"
)

// Snapshot is the device state an encoder reads. The dispatcher fills in
// the fields the command needs before encoding.
type Snapshot struct {
	SelfTestPassed bool
	ChipVersion    byte
	Tag            tagcache.TagID
}

// ErrFirmwareVersion is returned for version strings that cannot be sent.
var ErrFirmwareVersion = errors.New("invalid firmware version")

// Encoder builds reply packets. Encoding is deterministic for a given entry
// and snapshot.
type Encoder struct {
	firmware string
}

// NewEncoder validates the firmware version string and returns an encoder
// that reports it.
func NewEncoder(firmware string) (*Encoder, error) {
	if err := ValidateFirmware(firmware); err != nil {
		return nil, err
	}
	return &Encoder{firmware: firmware}, nil
}

// ValidateFirmware checks that v is non-empty printable ASCII short enough
// for a GET_FIRMWARE reply.
func ValidateFirmware(v string) error {
	if v == "" {
		return fmt.Errorf("%w: empty", ErrFirmwareVersion)
	}
	if len(v) > MaxFirmwareLen {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFirmwareVersion, len(v), MaxFirmwareLen)
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7E {
			return fmt.Errorf("%w: non-printable byte 0x%02X at %d", ErrFirmwareVersion, v[i], i)
		}
	}
	return nil
}

// Firmware returns the version string the encoder reports.
func (e *Encoder) Firmware() string {
	return e.firmware
}

// Encode builds the reply for entry.
func (e *Encoder) Encode(entry Entry, snap Snapshot) Packet {
	var p Packet
	p.put(entry.Discriminant)

	switch entry.Action {
	case ActionFirmware:
		// Length counts the trailing NUL.
		p.put(byte(len(e.firmware) + 1))
		p.put([]byte(e.firmware)...)
		p.put(0x00)

	case ActionSelfTest:
		p.put(boolByte(snap.SelfTestPassed))

	case ActionPresence:
		p.put(boolByte(!snap.Tag.IsEmpty()))

	case ActionTags:
		p.put(TagCount, tagcache.Size)
		p.put(snap.Tag[:]...)

	case ActionVersion:
		p.put(snap.ChipVersion)
	}

	return p
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
