package bus

import (
	"log"

	"fobreader/internal/syncutil"
)

// Mailbox hands command bytes from transport goroutines to the control
// goroutine. It holds at most one command; a newer command replaces an
// unserviced one.
type Mailbox struct {
	mu    syncutil.Mutex
	cmd   byte
	full  bool
	ready chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put stores cmd. If an earlier command was still waiting it is returned
// with ok set.
func (m *Mailbox) Put(cmd byte) (displaced byte, ok bool) {
	m.mu.Lock()
	if m.full {
		displaced, ok = m.cmd, true
	}
	m.cmd = cmd
	m.full = true
	m.mu.Unlock()

	if ok {
		log.Printf("Command 0x%02X dropped, replaced by 0x%02X", displaced, cmd)
	}

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return displaced, ok
}

// Ready is signalled after a Put. A signal may be stale; Take reports
// whether a command is actually waiting.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Take removes and returns the waiting command.
func (m *Mailbox) Take() (byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		return 0, false
	}
	m.full = false
	return m.cmd, true
}
