package reader

// PICCType classifies a card from its SAK byte.
type PICCType int

// Card types.
const (
	PICCUnknown PICCType = iota
	PICCISO14443_4
	PICCISO18092
	PICCMifareMini
	PICCMifare1K
	PICCMifare4K
	PICCMifareUL
	PICCMifarePlus
	PICCTNP3XXX
	PICCNotComplete
)

var piccNames = map[PICCType]string{
	PICCUnknown:     "Unknown type",
	PICCISO14443_4:  "ISO/IEC 14443-4 card",
	PICCISO18092:    "ISO/IEC 18092 (NFC) card",
	PICCMifareMini:  "MIFARE Mini, 320 bytes",
	PICCMifare1K:    "MIFARE 1KB",
	PICCMifare4K:    "MIFARE 4KB",
	PICCMifareUL:    "MIFARE Ultralight",
	PICCMifarePlus:  "MIFARE Plus",
	PICCTNP3XXX:     "MIFARE TNP3XXX",
	PICCNotComplete: "UID not complete",
}

func (t PICCType) String() string {
	if name, ok := piccNames[t]; ok {
		return name
	}
	return piccNames[PICCUnknown]
}

// IsClassic reports whether t is one of the MIFARE Classic family the
// reader accepts: Mini, 1K or 4K.
func (t PICCType) IsClassic() bool {
	switch t {
	case PICCMifareMini, PICCMifare1K, PICCMifare4K:
		return true
	}
	return false
}

// TypeFromSAK maps a SAK byte to a card type. Bit 7 is reserved and ignored.
func TypeFromSAK(sak byte) PICCType {
	switch sak & 0x7F {
	case 0x04:
		return PICCNotComplete
	case 0x09:
		return PICCMifareMini
	case 0x08:
		return PICCMifare1K
	case 0x18:
		return PICCMifare4K
	case 0x00:
		return PICCMifareUL
	case 0x10, 0x11:
		return PICCMifarePlus
	case 0x01:
		return PICCTNP3XXX
	case 0x20:
		return PICCISO14443_4
	case 0x40:
		return PICCISO18092
	}
	return PICCUnknown
}
