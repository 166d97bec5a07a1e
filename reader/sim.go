package reader

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"

	"fobreader/internal/syncutil"
)

// Sim implements Driver for bench use. Cards and chip state are injected
// as text lines on a named pipe:
//
//	card <hex uid> [sak]   - present a card once (4, 7 or 10 byte uid, sak defaults to 08)
//	selftest pass|fail     - set the self-test outcome
//	version <hex>          - set the VersionReg value
type Sim struct {
	path string
	pipe *os.File

	mu       syncutil.Mutex
	pending  *Card
	selfTest bool
	version  byte
}

func newSim() *Sim {
	return &Sim{selfTest: true, version: 0x92}
}

// NewSim creates the named pipe at path and starts listening on it.
func NewSim(path string) (*Sim, error) {
	os.Remove(path)
	if err := syscall.Mkfifo(path, 0666); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", path, err)
	}

	// Opened read-write so the pipe never reports EOF between writers.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("open named pipe %s: %w", path, err)
	}

	s := newSim()
	s.path = path
	s.pipe = f
	log.Printf("Simulated reader listening on %s", path)
	go s.listen(f)
	return s, nil
}

func (s *Sim) listen(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.apply(line); err != nil {
			log.Printf("Simulated reader: %v", err)
		}
	}
}

func (s *Sim) apply(line string) error {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case "card", "tag":
		if len(parts) < 2 {
			return fmt.Errorf("card requires a uid")
		}
		uid, err := hex.DecodeString(strings.ReplaceAll(parts[1], ":", ""))
		if err != nil {
			return fmt.Errorf("invalid uid: %s", parts[1])
		}
		switch len(uid) {
		case 4, 7, 10:
		default:
			return fmt.Errorf("uid must be 4, 7 or 10 bytes, got %d", len(uid))
		}
		card := Card{UID: uid, SAK: 0x08}
		if len(parts) > 2 {
			sak, err := strconv.ParseUint(parts[2], 16, 8)
			if err != nil {
				return fmt.Errorf("invalid sak: %s", parts[2])
			}
			card.SAK = byte(sak)
		}
		s.pending = &card

	case "selftest":
		if len(parts) < 2 {
			return fmt.Errorf("selftest requires pass or fail")
		}
		switch strings.ToLower(parts[1]) {
		case "pass":
			s.selfTest = true
		case "fail":
			s.selfTest = false
		default:
			return fmt.Errorf("invalid selftest outcome: %s", parts[1])
		}

	case "version":
		if len(parts) < 2 {
			return fmt.Errorf("version requires a value")
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 8)
		if err != nil {
			return fmt.Errorf("invalid version: %s", parts[1])
		}
		s.version = byte(v)

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

// PollForCard implements Driver.PollForCard. Each injected card is
// reported once.
func (s *Sim) PollForCard(ctx context.Context) (Card, bool, error) {
	if err := ctx.Err(); err != nil {
		return Card{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return Card{}, false, nil
	}
	card := *s.pending
	s.pending = nil
	return card, true, nil
}

// ReadRegister implements Driver.ReadRegister. Only VersionReg is modelled.
func (s *Sim) ReadRegister(reg byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg == VersionReg {
		return s.version, nil
	}
	return 0, nil
}

// SelfTest implements Driver.SelfTest.
func (s *Sim) SelfTest() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selfTest, nil
}

// HaltAndStopCrypto implements Driver.HaltAndStopCrypto.
func (s *Sim) HaltAndStopCrypto() error {
	return nil
}

// Close implements Driver.Close and removes the pipe.
func (s *Sim) Close() error {
	if s.pipe == nil {
		return nil
	}
	s.pipe.Close()
	return os.Remove(s.path)
}
