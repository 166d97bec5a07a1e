package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fobreader/protocol"
	"fobreader/reader"
	"fobreader/tagcache"
)

type recordWriter struct {
	replies [][]byte
	err     error
	// order records writes and reject sequences as they happen.
	order *[]string
}

func (w *recordWriter) Write(reply []byte) error {
	w.replies = append(w.replies, append([]byte(nil), reply...))
	if w.order != nil {
		*w.order = append(*w.order, "write")
	}
	return w.err
}

type countFeedback struct {
	rejects int
	order   *[]string
}

func (f *countFeedback) RejectSequence() {
	f.rejects++
	if f.order != nil {
		*f.order = append(*f.order, "reject")
	}
}

type fakeChip struct {
	passed   bool
	err      error
	version  byte
	regsRead []byte
}

func (c *fakeChip) SelfTest() (bool, error) { return c.passed, c.err }

func (c *fakeChip) ReadRegister(reg byte) (byte, error) {
	c.regsRead = append(c.regsRead, reg)
	return c.version, nil
}

type fixture struct {
	d     *Dispatcher
	out   *recordWriter
	fb    *countFeedback
	chip  *fakeChip
	cache *tagcache.Cache
	order []string
}

func newFixture(t *testing.T, table protocol.Table) *fixture {
	t.Helper()
	enc, err := protocol.NewEncoder("1.0")
	require.NoError(t, err)

	f := &fixture{cache: tagcache.NewCache(), chip: &fakeChip{passed: true, version: 0x92}}
	f.out = &recordWriter{order: &f.order}
	f.fb = &countFeedback{order: &f.order}
	f.d = New(table, enc, f.out, f.cache, f.fb, f.chip)
	return f
}

func (f *fixture) last() []byte {
	return f.out.replies[len(f.out.replies)-1]
}

var uid = tagcache.TagID{0x04, 0x1A, 0x99, 0x3B}

func TestFixedReplies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Canonical())
	tests := []struct {
		cmd  byte
		want []byte
	}{
		{protocol.CmdDetect, []byte{protocol.DetectAck}},
		{protocol.CmdInit, []byte{0xFB}},
		{protocol.CmdGetFirmware, []byte{0xFC, 0x04, '1', '.', '0', 0x00}},
		{protocol.CmdSelfTest, []byte{0xDC, 0x01}},
		{protocol.CmdGetAvailable, []byte{0xFE, 0x00}},
		{protocol.CmdGetMifareVersion, []byte{0xDB, 0x92}},
	}
	for _, tt := range tests {
		require.True(t, f.d.Handle(tt.cmd))
		assert.Equal(t, tt.want, f.last(), "cmd 0x%02X", tt.cmd)
	}
	assert.Equal(t, []byte{reader.VersionReg}, f.chip.regsRead)
	assert.Equal(t, 0, f.fb.rejects)
}

func TestGetTagsClearsCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Canonical())
	f.cache.Store(uid)

	require.True(t, f.d.Handle(protocol.CmdGetAvailable))
	assert.Equal(t, []byte{0xFE, 0x01}, f.last())

	var events []Event
	f.d.OnHandled(func(ev Event) { events = append(events, ev) })

	require.True(t, f.d.Handle(protocol.CmdGetTags))
	assert.Equal(t, []byte{0xFD, 0x01, 0x04, 0x04, 0x1A, 0x99, 0x3B}, f.last())
	assert.False(t, f.cache.HasData())
	require.Len(t, events, 1)
	assert.Equal(t, uid, events[0].Tag)

	require.True(t, f.d.Handle(protocol.CmdGetTags))
	assert.Equal(t, []byte{0xFD, 0x01, 0x04, 0x00, 0x00, 0x00, 0x00}, f.last())

	require.True(t, f.d.Handle(protocol.CmdGetAvailable))
	assert.Equal(t, []byte{0xFE, 0x00}, f.last())
}

func TestGetTagsClearsEvenWhenWriteFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Canonical())
	f.out.err = errors.New("bus gone")
	f.cache.Store(uid)

	var ev Event
	f.d.OnHandled(func(e Event) { ev = e })
	require.True(t, f.d.Handle(protocol.CmdGetTags))
	assert.False(t, f.cache.HasData())
	assert.Error(t, ev.WriteErr)
}

func TestBadCardRepliesThenRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Canonical())
	require.True(t, f.d.Handle(protocol.CmdBadCard))
	assert.Equal(t, []byte{0xDD}, f.last())
	assert.Equal(t, []string{"write", "reject"}, f.order)
	assert.Equal(t, 1, f.fb.rejects)
}

func TestSelfTestFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Canonical())
	f.chip.passed = false
	require.True(t, f.d.Handle(protocol.CmdSelfTest))
	assert.Equal(t, []byte{0xDC, 0x00}, f.last())

	f.chip.passed = true
	f.chip.err = errors.New("chip gone")
	require.True(t, f.d.Handle(protocol.CmdSelfTest))
	assert.Equal(t, []byte{0xDC, 0x00}, f.last())
}

func TestTotalOverAllBytes(t *testing.T) {
	t.Parallel()

	for _, table := range []protocol.Table{protocol.Canonical(), protocol.Legacy()} {
		f := newFixture(t, table)
		f.cache.Store(uid)

		for i := 0; i < 256; i++ {
			cmd := byte(i)
			before := len(f.out.replies)
			_, known := table.Lookup(cmd)

			handled := f.d.Handle(cmd)
			assert.Equal(t, known, handled, "%s 0x%02X", table.Name(), cmd)
			if known {
				assert.Equal(t, before+1, len(f.out.replies), "%s 0x%02X", table.Name(), cmd)
			} else {
				assert.Equal(t, before, len(f.out.replies), "%s 0x%02X", table.Name(), cmd)
			}
			assert.Equal(t, Idle, f.d.State())
		}
	}
}

func TestLegacyTable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Legacy())
	f.cache.Store(uid)

	require.True(t, f.d.Handle(protocol.CmdLegacyCheckCard))
	assert.Equal(t, []byte{0x01, 0x01, 0x04, 0x04, 0x1A, 0x99, 0x3B}, f.last())
	assert.False(t, f.cache.HasData())

	require.True(t, f.d.Handle(protocol.CmdLegacySelfTest))
	assert.Equal(t, []byte{0x00, 0x01}, f.last())

	require.True(t, f.d.Handle(protocol.CmdLegacyBadCard))
	assert.Equal(t, []byte{0x02}, f.last())
	assert.Equal(t, 1, f.fb.rejects)

	assert.False(t, f.d.Handle(protocol.CmdDetect))
	assert.False(t, f.d.Handle(protocol.BusScan))
}

func TestStateDuringHandling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, protocol.Canonical())
	var during State
	f.d.OnHandled(func(Event) { during = f.d.State() })

	require.True(t, f.d.Handle(protocol.CmdInit))
	assert.Equal(t, Handling, during)
	assert.Equal(t, Idle, f.d.State())
	assert.Equal(t, "idle", Idle.String())
}
