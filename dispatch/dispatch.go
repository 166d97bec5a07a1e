// Package dispatch turns command bytes from the host bus into replies. It
// looks each byte up in the active command table, gathers the state the
// reply needs, writes exactly one packet, and performs the command's side
// effects. Unknown bytes get no reply.
package dispatch

import (
	"log"

	"fobreader/protocol"
	"fobreader/reader"
	"fobreader/tagcache"
)

// Writer sends one reply to the host.
type Writer interface {
	Write(reply []byte) error
}

// Feedback is the part of the feedback controller the dispatcher drives.
type Feedback interface {
	RejectSequence()
}

// Chip is the part of the reader driver the dispatcher queries.
type Chip interface {
	SelfTest() (bool, error)
	ReadRegister(reg byte) (byte, error)
}

// State is the dispatcher state.
type State int

// Dispatcher states.
const (
	Idle State = iota
	Handling
)

func (s State) String() string {
	if s == Handling {
		return "handling"
	}
	return "idle"
}

// Event describes one handled command.
type Event struct {
	Entry protocol.Entry
	Reply protocol.Packet

	// Tag is the tag handed out by a tags command.
	Tag tagcache.TagID

	// SelfTest is the outcome of a self-test command.
	SelfTest bool

	// WriteErr is set when the reply could not be sent.
	WriteErr error
}

// Dispatcher handles host commands. It must only be called from the
// control goroutine, which also runs the poll loop.
type Dispatcher struct {
	table    protocol.Table
	enc      *protocol.Encoder
	out      Writer
	cache    *tagcache.Cache
	feedback Feedback
	chip     Chip

	state   State
	handled func(Event)

	// Verbose logs every command, including bus scans.
	Verbose bool
}

// New creates a dispatcher answering the commands in table.
func New(table protocol.Table, enc *protocol.Encoder, out Writer, cache *tagcache.Cache, feedback Feedback, chip Chip) *Dispatcher {
	return &Dispatcher{
		table:    table,
		enc:      enc,
		out:      out,
		cache:    cache,
		feedback: feedback,
		chip:     chip,
	}
}

// OnHandled registers fn to be called after every handled command.
func (d *Dispatcher) OnHandled(fn func(Event)) {
	d.handled = fn
}

// State returns the current state. It is Handling only while Handle runs.
func (d *Dispatcher) State() State {
	return d.state
}

// Table returns the active command table.
func (d *Dispatcher) Table() protocol.Table {
	return d.table
}

// Handle processes one command byte and reports whether it was recognised.
func (d *Dispatcher) Handle(cmd byte) bool {
	entry, ok := d.table.Lookup(cmd)
	if !ok {
		if cmd != protocol.BusScan || d.Verbose {
			log.Printf("Unknown command 0x%02X ignored", cmd)
		}
		return false
	}

	d.state = Handling
	defer func() { d.state = Idle }()

	ev := Event{Entry: entry}
	snap := d.snapshot(entry, &ev)
	ev.Reply = d.enc.Encode(entry, snap)

	if d.Verbose {
		log.Printf("Command %s (0x%02X) -> %v", entry.Name, cmd, ev.Reply)
	}
	if err := d.out.Write(ev.Reply.Bytes()); err != nil {
		log.Printf("Reply to %s failed: %v", entry.Name, err)
		ev.WriteErr = err
	}

	switch entry.Action {
	case protocol.ActionTags:
		if !ev.Tag.IsEmpty() {
			log.Printf("Sent tag: %v", ev.Tag)
		}
		d.cache.Clear()
	case protocol.ActionBadCard:
		log.Printf("Host rejected card")
		d.feedback.RejectSequence()
	}

	if d.handled != nil {
		d.handled(ev)
	}
	return true
}

func (d *Dispatcher) snapshot(entry protocol.Entry, ev *Event) protocol.Snapshot {
	var snap protocol.Snapshot

	switch entry.Action {
	case protocol.ActionSelfTest:
		passed, err := d.chip.SelfTest()
		if err != nil {
			log.Printf("Self-test error: %v", err)
			passed = false
		}
		snap.SelfTestPassed = passed
		ev.SelfTest = passed

	case protocol.ActionVersion:
		v, err := d.chip.ReadRegister(reader.VersionReg)
		if err != nil {
			log.Printf("Version read error: %v", err)
		}
		snap.ChipVersion = v

	case protocol.ActionPresence, protocol.ActionTags:
		snap.Tag = d.cache.Peek()
		ev.Tag = snap.Tag
	}

	return snap
}
