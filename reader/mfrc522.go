package reader

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"fobreader/gpio"
)

// MFRC522 registers.
const (
	CommandReg    = 0x01
	ComIEnReg     = 0x02
	DivIEnReg     = 0x03
	ComIrqReg     = 0x04
	DivIrqReg     = 0x05
	ErrorReg      = 0x06
	Status1Reg    = 0x07
	Status2Reg    = 0x08
	FIFODataReg   = 0x09
	FIFOLevelReg  = 0x0A
	ControlReg    = 0x0C
	BitFramingReg = 0x0D
	CollReg       = 0x0E
	ModeReg       = 0x11
	TxModeReg     = 0x12
	RxModeReg     = 0x13
	TxControlReg  = 0x14
	TxASKReg      = 0x15
	CRCResultRegH = 0x21
	CRCResultRegL = 0x22
	ModWidthReg   = 0x24
	TModeReg      = 0x2A
	TPrescalerReg = 0x2B
	TReloadRegH   = 0x2C
	TReloadRegL   = 0x2D
	AutoTestReg   = 0x36
	VersionReg    = 0x37
)

// MFRC522 commands.
const (
	pcdIdle       = 0x00
	pcdMem        = 0x01
	pcdCalcCRC    = 0x03
	pcdTransceive = 0x0C
	pcdSoftReset  = 0x0F
)

// Card commands.
const (
	piccREQA       = 0x26
	piccSelCL1     = 0x93
	piccSelCL2     = 0x95
	piccSelCL3     = 0x97
	piccHLTA       = 0x50
	piccCascadeTag = 0x88

	// sakCascade is set in SAK while the UID is not complete.
	sakCascade = 0x04
)

// Interrupt and status bits.
const (
	irqTimer    = 0x01
	irqIdle     = 0x10
	irqRx       = 0x20
	errCollErr  = 0x08
	errFatal    = 0x13 // BufferOvfl, ParityErr, ProtocolErr
	startSend   = 0x80
	flushFIFO   = 0x80
	mfCrypto1On = 0x08
	powerDown   = 0x10
)

const (
	selfTestSize   = 64
	transceiveWait = 36 * time.Millisecond
	selfTestWait   = 100 * time.Millisecond
	resetSettle    = 50 * time.Millisecond
)

// Chip versions reported in VersionReg.
var knownVersions = map[byte]string{
	0x12: "counterfeit chip",
	0x88: "FM17522",
	0x89: "FM17522E",
	0x90: "v0.0",
	0x91: "v1.0",
	0x92: "v2.0",
	0xB2: "FM17522_1",
}

// VersionName describes a VersionReg value.
func VersionName(v byte) string {
	if name, ok := knownVersions[v]; ok {
		return name
	}
	return "unknown"
}

// Link is register-level access to the reader chip.
type Link interface {
	WriteRegister(reg byte, values ...byte) error
	ReadRegister(reg byte) (byte, error)

	// ReadRegisters reads reg n times, as used for draining the FIFO.
	ReadRegisters(reg byte, n int) ([]byte, error)

	Close() error
}

// MFRC522 drives an NXP MFRC522 (or a compatible clone) over a Link.
type MFRC522 struct {
	link      Link
	reset     gpio.Output
	reference []byte
	sleep     func(time.Duration)
}

// NewMFRC522 wraps link. reset may be nil; reference is the expected
// self-test result or nil.
func NewMFRC522(link Link, reset gpio.Output, reference []byte) *MFRC522 {
	return &MFRC522{link: link, reset: reset, reference: reference, sleep: time.Sleep}
}

func parseReference(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	ref, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("selftest reference: %w", err)
	}
	if len(ref) != selfTestSize {
		return nil, fmt.Errorf("selftest reference is %d bytes, want %d", len(ref), selfTestSize)
	}
	return ref, nil
}

// Init resets the chip and configures it for polling ISO 14443A cards.
func (m *MFRC522) Init() error {
	if err := m.hardReset(); err != nil {
		return err
	}

	steps := []struct{ reg, val byte }{
		{TxModeReg, 0x00},
		{RxModeReg, 0x00},
		{ModWidthReg, 0x26},
		{TModeReg, 0x80}, // timer starts after each transmission
		{TPrescalerReg, 0xA9},
		{TReloadRegH, 0x03},
		{TReloadRegL, 0xE8}, // 25ms timeout
		{TxASKReg, 0x40},    // 100% ASK
		{ModeReg, 0x3D},     // CRC preset 0x6363
	}
	for _, s := range steps {
		if err := m.link.WriteRegister(s.reg, s.val); err != nil {
			return fmt.Errorf("init mfrc522: %w", err)
		}
	}
	return m.antennaOn()
}

func (m *MFRC522) hardReset() error {
	if m.reset == nil {
		return m.softReset()
	}
	if err := m.reset.Set(false); err != nil {
		return fmt.Errorf("reset mfrc522: %w", err)
	}
	m.sleep(time.Millisecond)
	if err := m.reset.Set(true); err != nil {
		return fmt.Errorf("reset mfrc522: %w", err)
	}
	m.sleep(resetSettle)
	return nil
}

func (m *MFRC522) softReset() error {
	if err := m.link.WriteRegister(CommandReg, pcdSoftReset); err != nil {
		return fmt.Errorf("reset mfrc522: %w", err)
	}
	for i := 0; i < 3; i++ {
		m.sleep(resetSettle)
		v, err := m.link.ReadRegister(CommandReg)
		if err != nil {
			return fmt.Errorf("reset mfrc522: %w", err)
		}
		if v&powerDown == 0 {
			return nil
		}
	}
	return errors.New("reset mfrc522: chip did not wake")
}

func (m *MFRC522) antennaOn() error {
	v, err := m.link.ReadRegister(TxControlReg)
	if err != nil {
		return fmt.Errorf("antenna on: %w", err)
	}
	if v&0x03 == 0x03 {
		return nil
	}
	return m.link.WriteRegister(TxControlReg, v|0x03)
}

func (m *MFRC522) setBits(reg, mask byte) error {
	v, err := m.link.ReadRegister(reg)
	if err != nil {
		return err
	}
	return m.link.WriteRegister(reg, v|mask)
}

func (m *MFRC522) clearBits(reg, mask byte) error {
	v, err := m.link.ReadRegister(reg)
	if err != nil {
		return err
	}
	return m.link.WriteRegister(reg, v&^mask)
}

// ReadRegister implements Driver.ReadRegister.
func (m *MFRC522) ReadRegister(reg byte) (byte, error) {
	return m.link.ReadRegister(reg)
}

// DumpVersion logs the chip version.
func (m *MFRC522) DumpVersion() {
	v, err := m.link.ReadRegister(VersionReg)
	if err != nil {
		log.Printf("MFRC522 version read failed: %v", err)
		return
	}
	if v == 0x00 || v == 0xFF {
		log.Printf("MFRC522 not responding (version 0x%02X), check wiring", v)
		return
	}
	log.Printf("MFRC522 firmware version 0x%02X (%s)", v, VersionName(v))
}

// transceive sends data to the card and returns its answer. validBits is
// the number of bits of the last byte to send, 0 meaning all eight.
func (m *MFRC522) transceive(data []byte, validBits byte) ([]byte, error) {
	writes := []struct{ reg, val byte }{
		{CommandReg, pcdIdle},
		{ComIrqReg, 0x7F},
		{FIFOLevelReg, flushFIFO},
	}
	for _, w := range writes {
		if err := m.link.WriteRegister(w.reg, w.val); err != nil {
			return nil, err
		}
	}
	if err := m.link.WriteRegister(FIFODataReg, data...); err != nil {
		return nil, err
	}
	if err := m.link.WriteRegister(BitFramingReg, validBits&0x07); err != nil {
		return nil, err
	}
	if err := m.link.WriteRegister(CommandReg, pcdTransceive); err != nil {
		return nil, err
	}
	if err := m.setBits(BitFramingReg, startSend); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(transceiveWait)
	for {
		irq, err := m.link.ReadRegister(ComIrqReg)
		if err != nil {
			return nil, err
		}
		if irq&(irqRx|irqIdle) != 0 {
			break
		}
		if irq&irqTimer != 0 || time.Now().After(deadline) {
			return nil, ErrTimeout
		}
	}

	errReg, err := m.link.ReadRegister(ErrorReg)
	if err != nil {
		return nil, err
	}
	if errReg&errFatal != 0 {
		return nil, fmt.Errorf("%w: error register 0x%02X", ErrProtocol, errReg)
	}

	n, err := m.link.ReadRegister(FIFOLevelReg)
	if err != nil {
		return nil, err
	}
	resp, err := m.link.ReadRegisters(FIFODataReg, int(n))
	if err != nil {
		return nil, err
	}
	if errReg&errCollErr != 0 {
		return resp, ErrCollision
	}
	return resp, nil
}

// CRCA computes the ISO/IEC 14443-3 type A CRC, low byte first.
func CRCA(data []byte) [2]byte {
	crc := uint16(0x6363)
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		crc = (crc >> 8) ^ uint16(b)<<8 ^ uint16(b)<<3 ^ uint16(b)>>4
	}
	return [2]byte{byte(crc), byte(crc >> 8)}
}

func withCRC(data []byte) []byte {
	crc := CRCA(data)
	return append(data, crc[0], crc[1])
}

// PollForCard implements Driver.PollForCard. Only cards in the idle state
// answer, so a card that was halted stays silent until it leaves the field.
func (m *MFRC522) PollForCard(ctx context.Context) (Card, bool, error) {
	if err := ctx.Err(); err != nil {
		return Card{}, false, err
	}

	for _, w := range []struct{ reg, val byte }{{TxModeReg, 0x00}, {RxModeReg, 0x00}, {ModWidthReg, 0x26}} {
		if err := m.link.WriteRegister(w.reg, w.val); err != nil {
			return Card{}, false, err
		}
	}

	atqa, err := m.transceive([]byte{piccREQA}, 7)
	switch {
	case errors.Is(err, ErrTimeout):
		return Card{}, false, nil
	case err != nil && !errors.Is(err, ErrCollision):
		return Card{}, false, err
	case len(atqa) != 2:
		return Card{}, false, nil
	}

	card, err := m.selectCard()
	if errors.Is(err, ErrTimeout) {
		return Card{}, false, nil
	}
	if err != nil {
		return Card{}, false, err
	}
	return card, true, nil
}

// selectCard runs anticollision and SELECT through as many cascade levels
// as the card needs. Double and triple size UIDs are returned whole; the
// caller decides whether it accepts them.
func (m *MFRC522) selectCard() (Card, error) {
	if err := m.clearBits(CollReg, 0x80); err != nil {
		return Card{}, err
	}

	var uid []byte
	for _, level := range []byte{piccSelCL1, piccSelCL2, piccSelCL3} {
		resp, err := m.transceive([]byte{level, 0x20}, 0)
		if err != nil {
			return Card{}, err
		}
		if len(resp) != 5 {
			return Card{}, fmt.Errorf("%w: anticollision answer of %d bytes", ErrProtocol, len(resp))
		}
		part, bcc := resp[:4], resp[4]
		if part[0]^part[1]^part[2]^part[3] != bcc {
			return Card{}, ErrBCC
		}

		sel := withCRC([]byte{level, 0x70, part[0], part[1], part[2], part[3], bcc})
		resp, err = m.transceive(sel, 0)
		if err != nil {
			return Card{}, err
		}
		if len(resp) != 3 {
			return Card{}, fmt.Errorf("%w: select answer of %d bytes", ErrProtocol, len(resp))
		}
		if crc := CRCA(resp[:1]); crc[0] != resp[1] || crc[1] != resp[2] {
			return Card{}, ErrCRC
		}
		sak := resp[0]

		if sak&sakCascade == 0 {
			uid = append(uid, part...)
			return Card{UID: uid, SAK: sak}, nil
		}
		if part[0] != piccCascadeTag {
			return Card{}, fmt.Errorf("%w: cascade bit without cascade tag", ErrProtocol)
		}
		uid = append(uid, part[1:]...)
	}
	return Card{}, fmt.Errorf("%w: uid longer than three cascade levels", ErrProtocol)
}

// HaltAndStopCrypto implements Driver.HaltAndStopCrypto.
func (m *MFRC522) HaltAndStopCrypto() error {
	_, err := m.transceive(withCRC([]byte{piccHLTA, 0x00}), 0)
	switch {
	case errors.Is(err, ErrTimeout):
	case err == nil:
		return fmt.Errorf("%w: card answered halt", ErrProtocol)
	default:
		return fmt.Errorf("halt card: %w", err)
	}
	if err := m.clearBits(Status2Reg, mfCrypto1On); err != nil {
		return fmt.Errorf("stop crypto: %w", err)
	}
	return nil
}

// SelfTest implements Driver.SelfTest using the chip's digital self-test.
// The chip is reinitialised afterwards whatever the outcome.
func (m *MFRC522) SelfTest() (bool, error) {
	result, version, err := m.runSelfTest()
	if ierr := m.Init(); err == nil {
		err = ierr
	}
	if err != nil {
		return false, err
	}

	passed := m.judge(result, version)
	log.Printf("MFRC522 self-test %s, version 0x%02X (%s)", passFail(passed), version, VersionName(version))
	return passed, nil
}

func (m *MFRC522) runSelfTest() ([]byte, byte, error) {
	if err := m.softReset(); err != nil {
		return nil, 0, err
	}

	steps := []struct {
		reg  byte
		vals []byte
	}{
		{FIFOLevelReg, []byte{flushFIFO}},
		{FIFODataReg, make([]byte, 25)},
		{CommandReg, []byte{pcdMem}},
		{AutoTestReg, []byte{0x09}},
		{FIFODataReg, []byte{0x00}},
		{CommandReg, []byte{pcdCalcCRC}},
	}
	for _, s := range steps {
		if err := m.link.WriteRegister(s.reg, s.vals...); err != nil {
			return nil, 0, fmt.Errorf("self-test: %w", err)
		}
	}

	deadline := time.Now().Add(selfTestWait)
	for {
		n, err := m.link.ReadRegister(FIFOLevelReg)
		if err != nil {
			return nil, 0, fmt.Errorf("self-test: %w", err)
		}
		if n >= selfTestSize {
			break
		}
		if time.Now().After(deadline) {
			return nil, 0, fmt.Errorf("self-test: %w", ErrTimeout)
		}
	}

	if err := m.link.WriteRegister(CommandReg, pcdIdle); err != nil {
		return nil, 0, fmt.Errorf("self-test: %w", err)
	}
	result, err := m.link.ReadRegisters(FIFODataReg, selfTestSize)
	if err != nil {
		return nil, 0, fmt.Errorf("self-test: %w", err)
	}
	if err := m.link.WriteRegister(AutoTestReg, 0x00); err != nil {
		return nil, 0, fmt.Errorf("self-test: %w", err)
	}
	version, err := m.link.ReadRegister(VersionReg)
	if err != nil {
		return nil, 0, fmt.Errorf("self-test: %w", err)
	}
	return result, version, nil
}

func (m *MFRC522) judge(result []byte, version byte) bool {
	if len(result) != selfTestSize {
		return false
	}
	if m.reference != nil {
		return bytes.Equal(result, m.reference)
	}
	if _, ok := knownVersions[version]; !ok {
		return false
	}
	for _, b := range result[1:] {
		if b != result[0] {
			return true
		}
	}
	return false
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

// Close implements Driver.Close.
func (m *MFRC522) Close() error {
	err := m.link.Close()
	if m.reset != nil {
		if rerr := m.reset.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
