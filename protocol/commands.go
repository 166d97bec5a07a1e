// Package protocol defines the host command tables and the byte layout of
// every reply packet.
package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Command codes of the canonical table.
const (
	CmdDetect           = 0xFA
	CmdInit             = 0xFB
	CmdGetFirmware      = 0xFC
	CmdSelfTest         = 0xDC
	CmdGetTags          = 0xFD
	CmdGetAvailable     = 0xFE
	CmdBadCard          = 0xDD
	CmdGetMifareVersion = 0xDB
)

// Command codes of the legacy table.
const (
	CmdLegacySelfTest  = 0x00
	CmdLegacyCheckCard = 0x01
	CmdLegacyBadCard   = 0x02
)

// DetectAck is the bare sentinel sent in reply to DETECT.
const DetectAck = 0xDA

// BusScan is the byte a master emits while scanning the bus. It is never a
// command.
const BusScan = 0xFF

// Action is the handler bound to a command code.
type Action int

const (
	ActionDetect Action = iota + 1
	ActionAck
	ActionFirmware
	ActionSelfTest
	ActionPresence
	ActionTags
	ActionBadCard
	ActionVersion
)

func (a Action) String() string {
	switch a {
	case ActionDetect:
		return "send-detect-ack"
	case ActionAck:
		return "send-ack"
	case ActionFirmware:
		return "send-firmware"
	case ActionSelfTest:
		return "run-self-test"
	case ActionPresence:
		return "send-tag-presence"
	case ActionTags:
		return "send-tags-and-clear-cache"
	case ActionBadCard:
		return "run-bad-card-feedback"
	case ActionVersion:
		return "send-version"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Entry binds a command code to its handler and reply discriminant.
type Entry struct {
	Name         string
	Code         byte
	Action       Action
	Discriminant byte
}

// Table is one configuration of the command set. Tables are never mixed at
// runtime.
type Table struct {
	name    string
	entries map[byte]Entry
}

func newTable(name string, entries ...Entry) Table {
	t := Table{name: name, entries: make(map[byte]Entry, len(entries))}
	for _, e := range entries {
		t.entries[e.Code] = e
	}
	return t
}

// Canonical returns the eight-command table of the current protocol
// revision.
func Canonical() Table {
	return newTable("canonical",
		Entry{Name: "DETECT", Code: CmdDetect, Action: ActionDetect, Discriminant: DetectAck},
		Entry{Name: "INIT", Code: CmdInit, Action: ActionAck, Discriminant: CmdInit},
		Entry{Name: "GET_FIRMWARE", Code: CmdGetFirmware, Action: ActionFirmware, Discriminant: CmdGetFirmware},
		Entry{Name: "SELF_TEST", Code: CmdSelfTest, Action: ActionSelfTest, Discriminant: CmdSelfTest},
		Entry{Name: "GET_TAGS", Code: CmdGetTags, Action: ActionTags, Discriminant: CmdGetTags},
		Entry{Name: "GET_AVAILABLE", Code: CmdGetAvailable, Action: ActionPresence, Discriminant: CmdGetAvailable},
		Entry{Name: "BAD_CARD", Code: CmdBadCard, Action: ActionBadCard, Discriminant: CmdBadCard},
		Entry{Name: "GET_MIFARE_VERSION", Code: CmdGetMifareVersion, Action: ActionVersion, Discriminant: CmdGetMifareVersion},
	)
}

// Legacy returns the three-command table of the earliest revision.
func Legacy() Table {
	return newTable("legacy",
		Entry{Name: "SELF_TEST", Code: CmdLegacySelfTest, Action: ActionSelfTest, Discriminant: CmdLegacySelfTest},
		Entry{Name: "CHECK_CARD", Code: CmdLegacyCheckCard, Action: ActionTags, Discriminant: CmdLegacyCheckCard},
		Entry{Name: "BAD_CARD", Code: CmdLegacyBadCard, Action: ActionBadCard, Discriminant: CmdLegacyBadCard},
	)
}

// TableByName returns the table called name ("canonical" or "legacy").
func TableByName(name string) (Table, error) {
	switch strings.ToLower(name) {
	case "", "canonical":
		return Canonical(), nil
	case "legacy":
		return Legacy(), nil
	default:
		return Table{}, fmt.Errorf("unknown protocol table %q", name)
	}
}

// Name returns the table name.
func (t Table) Name() string {
	return t.name
}

// Lookup returns the entry bound to code.
func (t Table) Lookup(code byte) (Entry, bool) {
	e, ok := t.entries[code]
	return e, ok
}

// LookupName finds an entry by command name, case-insensitively.
func (t Table) LookupName(name string) (Entry, bool) {
	for _, e := range t.entries {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns all entries ordered by command code.
func (t Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the number of recognized codes.
func (t Table) Len() int {
	return len(t.entries)
}
