package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fobreader/tagcache"
)

func TestFirmwareEncoding(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder("1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0", enc.Firmware())

	entry, ok := Canonical().Lookup(CmdGetFirmware)
	require.True(t, ok)

	p := enc.Encode(entry, Snapshot{})
	assert.Equal(t, []byte{0xFC, 0x04, '1', '.', '0', 0x00}, p.Bytes())

	reply, err := Decode(entry, p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "1.0", reply.Firmware)
}

func TestFirmwareLengthMatchesPayload(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"1", "1.0", "2.13.7-rc1", "abcdefghijklmnopqrstuvwxyz012"} {
		enc, err := NewEncoder(v)
		require.NoError(t, err, v)

		entry, _ := Canonical().Lookup(CmdGetFirmware)
		b := enc.Encode(entry, Snapshot{}).Bytes()
		n := int(b[1])
		assert.Equal(t, len(v)+1, n, v)
		assert.Len(t, b, 2+n, v)
		assert.Equal(t, byte(0), b[len(b)-1], v)
	}
}

func TestValidateFirmware(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ValidateFirmware(""), ErrFirmwareVersion)
	assert.ErrorIs(t, ValidateFirmware("1.0\n"), ErrFirmwareVersion)
	assert.ErrorIs(t, ValidateFirmware("version-string-that-is-far-too-long"), ErrFirmwareVersion)
	assert.NoError(t, ValidateFirmware("1.0"))
}

func TestTagsEncoding(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder("1.0")
	require.NoError(t, err)
	entry, _ := Canonical().Lookup(CmdGetTags)

	p := enc.Encode(entry, Snapshot{Tag: tagcache.TagID{0x04, 0x1A, 0x99, 0x3B}})
	assert.Equal(t, []byte{0xFD, 0x01, 0x04, 0x04, 0x1A, 0x99, 0x3B}, p.Bytes())
	assert.Equal(t, TagsSize, p.Len())

	empty := enc.Encode(entry, Snapshot{})
	assert.Equal(t, []byte{0xFD, 0x01, 0x04, 0x00, 0x00, 0x00, 0x00}, empty.Bytes())

	reply, err := Decode(entry, p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Count)
	assert.Equal(t, tagcache.TagID{0x04, 0x1A, 0x99, 0x3B}, reply.Tag)
}

func TestFixedReplies(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder("1.0")
	require.NoError(t, err)
	table := Canonical()

	tests := []struct {
		code byte
		snap Snapshot
		want []byte
	}{
		{CmdDetect, Snapshot{}, []byte{0xDA}},
		{CmdInit, Snapshot{}, []byte{0xFB}},
		{CmdBadCard, Snapshot{}, []byte{0xDD}},
		{CmdSelfTest, Snapshot{SelfTestPassed: true}, []byte{0xDC, 0x01}},
		{CmdSelfTest, Snapshot{}, []byte{0xDC, 0x00}},
		{CmdGetAvailable, Snapshot{Tag: tagcache.TagID{0xFF, 0xFF, 0xFF, 0xFF}}, []byte{0xFE, 0x01}},
		{CmdGetAvailable, Snapshot{}, []byte{0xFE, 0x00}},
		{CmdGetMifareVersion, Snapshot{ChipVersion: 0x92}, []byte{0xDB, 0x92}},
	}
	for _, tt := range tests {
		entry, ok := table.Lookup(tt.code)
		require.True(t, ok)
		assert.Equal(t, tt.want, enc.Encode(entry, tt.snap).Bytes(), entry.Name)
	}
}

func TestLegacyTable(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder("1.0")
	require.NoError(t, err)
	table := Legacy()
	assert.Equal(t, 3, table.Len())

	check, ok := table.Lookup(CmdLegacyCheckCard)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x01, 0x04, 1, 2, 3, 4},
		enc.Encode(check, Snapshot{Tag: tagcache.TagID{1, 2, 3, 4}}).Bytes())

	self, _ := table.Lookup(CmdLegacySelfTest)
	assert.Equal(t, []byte{0x00, 0x01}, enc.Encode(self, Snapshot{SelfTestPassed: true}).Bytes())

	_, ok = table.Lookup(CmdGetTags)
	assert.False(t, ok, "tables are never mixed")
}

func TestTableByName(t *testing.T) {
	t.Parallel()

	tbl, err := TableByName("Legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", tbl.Name())

	tbl, err = TableByName("")
	require.NoError(t, err)
	assert.Equal(t, 8, tbl.Len())

	_, err = TableByName("v3")
	assert.Error(t, err)

	e, ok := tbl.LookupName("get_tags")
	require.True(t, ok)
	assert.Equal(t, byte(CmdGetTags), e.Code)

	codes := tbl.Entries()
	for i := 1; i < len(codes); i++ {
		assert.Less(t, codes[i-1].Code, codes[i].Code)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	table := Canonical()
	fw, _ := table.Lookup(CmdGetFirmware)

	_, err := Decode(fw, nil)
	assert.ErrorIs(t, err, ErrShortReply)

	_, err = Decode(fw, []byte{0xFD})
	assert.ErrorIs(t, err, ErrWrongDiscriminant)

	_, err = Decode(fw, []byte{0xFC, 0x04, '1', '.', '0', '!'})
	assert.ErrorIs(t, err, ErrBadFirmware)

	_, err = Decode(fw, []byte{0xFC, 0x09, '1'})
	assert.ErrorIs(t, err, ErrBadFirmware)
}

func TestPacketIsValue(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder("1.0")
	require.NoError(t, err)
	entry, _ := Canonical().Lookup(CmdGetAvailable)

	p := enc.Encode(entry, Snapshot{})
	b := p.Bytes()
	b[0] = 0x00
	assert.Equal(t, byte(0xFE), p.Discriminant(), "Bytes returns a copy")
	assert.Equal(t, "FE 00", p.String())
}
