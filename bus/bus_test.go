package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

type fakePort struct {
	rx      [][]byte
	tx      [][]byte
	rts     []bool
	drained int
	closed  bool
	timeout time.Duration
	toErr   error
	onEmpty func()
}

func (p *fakePort) SetMode(*serial.Mode) error           { return nil }

func (p *fakePort) Read(buf []byte) (int, error) {
	if len(p.rx) == 0 {
		if p.onEmpty != nil {
			p.onEmpty()
		}
		return 0, nil
	}
	n := copy(buf, p.rx[0])
	p.rx = p.rx[1:]
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.tx = append(p.tx, append([]byte(nil), buf...))
	return len(buf), nil
}

func (p *fakePort) Drain() error                         { p.drained++; return nil }
func (p *fakePort) ResetInputBuffer() error              { return nil }
func (p *fakePort) ResetOutputBuffer() error             { return nil }
func (p *fakePort) SetDTR(bool) error                    { return nil }
func (p *fakePort) SetRTS(on bool) error                 { p.rts = append(p.rts, on); return nil }
func (p *fakePort) SetReadTimeout(d time.Duration) error { p.timeout = d; return p.toErr }
func (p *fakePort) Close() error                         { p.closed = true; return nil }
func (p *fakePort) Break(time.Duration) error            { return nil }

func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

type fakeLine struct {
	levels []bool
	closed bool
}

func (l *fakeLine) Set(on bool) error { l.levels = append(l.levels, on); return nil }
func (l *fakeLine) Close() error      { l.closed = true; return nil }

func decodeAll(t *testing.T, wire []byte) []*Frame {
	t.Helper()
	var dec Decoder
	var frames []*Frame
	for _, b := range wire {
		f, err := dec.DecodeByte(b)
		require.NoError(t, err)
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestCRC16(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	in := Frame{Dst: 0x00, Src: 0x7F, Payload: []byte{0xFD, 0x01, 0x04, 0x7E, 0x7D, 0x99, 0x3B}}
	wire, err := Encode(in)
	require.NoError(t, err)

	assert.Equal(t, byte(StartByte), wire[0])
	assert.Equal(t, byte(EndByte), wire[len(wire)-1])
	for _, b := range wire[1 : len(wire)-1] {
		assert.NotEqual(t, byte(StartByte), b)
		assert.NotEqual(t, byte(EndByte), b)
	}

	frames := decodeAll(t, append([]byte{0x55, 0xAA}, wire...))
	require.Len(t, frames, 1)
	assert.Equal(t, in, *frames[0])
}

func TestEncodeRejectsLongPayload(t *testing.T) {
	t.Parallel()

	_, err := Encode(Frame{Payload: make([]byte, MaxPayload+1)})
	assert.ErrorIs(t, err, ErrFrameLength)
}

func TestDecodeBadCRC(t *testing.T) {
	t.Parallel()

	wire, err := Encode(Frame{Dst: 0x10, Payload: []byte{0xFE}})
	require.NoError(t, err)
	require.Equal(t, byte(0xFE), wire[4])
	wire[4] = 0xFD

	var dec Decoder
	var gotErr error
	for _, b := range wire {
		f, err := dec.DecodeByte(b)
		assert.Nil(t, f)
		if err != nil {
			gotErr = err
		}
	}
	assert.ErrorIs(t, gotErr, ErrCRC)
}

func TestDecodeResyncsOnStart(t *testing.T) {
	t.Parallel()

	good, err := Encode(Frame{Dst: 0x10, Payload: []byte{0xFA}})
	require.NoError(t, err)

	var dec Decoder
	stream := append([]byte{StartByte, 0x10, 0x00}, good...)
	var frames []*Frame
	for _, b := range stream {
		f, _ := dec.DecodeByte(b)
		if f != nil {
			frames = append(frames, f)
		}
	}
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xFA}, frames[0].Payload)
}

func TestDecodeEarlyEnd(t *testing.T) {
	t.Parallel()

	var dec Decoder
	for _, b := range []byte{StartByte, 0x10, 0x00, 0x01} {
		_, err := dec.DecodeByte(b)
		require.NoError(t, err)
	}
	_, err := dec.DecodeByte(EndByte)
	assert.ErrorIs(t, err, ErrFrameAborted)
}

func TestMailboxLastWins(t *testing.T) {
	t.Parallel()

	m := NewMailbox()
	_, ok := m.Take()
	assert.False(t, ok)

	_, displaced := m.Put(0xFE)
	assert.False(t, displaced)
	old, displaced := m.Put(0xFD)
	assert.True(t, displaced)
	assert.Equal(t, byte(0xFE), old)

	select {
	case <-m.Ready():
	default:
		t.Fatal("mailbox not signalled")
	}

	cmd, ok := m.Take()
	require.True(t, ok)
	assert.Equal(t, byte(0xFD), cmd)

	_, ok = m.Take()
	assert.False(t, ok)
}

func frameFor(t *testing.T, dst byte, payload ...byte) []byte {
	t.Helper()
	wire, err := Encode(Frame{Dst: dst, Src: HostStation, Payload: payload})
	require.NoError(t, err)
	return wire
}

func TestSerialListenFiltersFrames(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wire := frameFor(t, 0x10, 0xFE)
	port := &fakePort{
		rx: [][]byte{
			frameFor(t, 0x11, 0xFA),
			frameFor(t, 0x10, 0xFA, 0xFB),
			wire[:3],
			wire[3:],
		},
		onEmpty: cancel,
	}

	var got []byte
	s := NewSerial(port, 0x10, nil, false)
	err := s.Listen(ctx, func(cmd byte) { got = append(got, cmd) })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []byte{0xFE}, got)
}

func TestSerialWriteFramesReply(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	de := &fakeLine{}
	s := NewSerial(port, 0x12, de, true)

	require.NoError(t, s.Write([]byte{0xFE, 0x01}))
	require.Len(t, port.tx, 1)

	frames := decodeAll(t, port.tx[0])
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Dst: HostStation, Src: 0x12, Payload: []byte{0xFE, 0x01}}, *frames[0])

	assert.Equal(t, []bool{true, false}, port.rts)
	assert.Equal(t, []bool{true, false}, de.levels)
	assert.Equal(t, 1, port.drained)

	require.NoError(t, s.Close())
	assert.True(t, port.closed)
	assert.True(t, de.closed)
}

func TestRequest(t *testing.T) {
	t.Parallel()

	reply, err := Encode(Frame{Dst: HostStation, Src: 0x10, Payload: []byte{0xFE, 0x00}})
	require.NoError(t, err)
	other, err := Encode(Frame{Dst: HostStation, Src: 0x11, Payload: []byte{0xFE, 0x01}})
	require.NoError(t, err)

	port := &fakePort{rx: [][]byte{other, reply}}
	got, err := Request(port, 0x10, 0xFE, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFE, 0x00}, got)

	require.Len(t, port.tx, 1)
	frames := decodeAll(t, port.tx[0])
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Dst: 0x10, Src: HostStation, Payload: []byte{0xFE}}, *frames[0])
}

func TestRequestTimesOut(t *testing.T) {
	t.Parallel()

	_, err := Request(&fakePort{}, 0x10, 0xFE, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoReply)
}

type fakeConn struct {
	writes  [][]byte
	sent    [][]byte
	onEmpty func()
	err     error
}

func (c *fakeConn) recv(buf []byte, wait time.Duration) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(c.writes) == 0 {
		c.onEmpty()
		return 0, nil
	}
	n := copy(buf, c.writes[0])
	c.writes = c.writes[1:]
	return n, nil
}

func (c *fakeConn) send(reply []byte) error {
	c.sent = append(c.sent, append([]byte(nil), reply...))
	return nil
}

func (c *fakeConn) close() error { return nil }

func TestRegisterListen(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &fakeConn{
		writes:  [][]byte{{0xFA}, {}, {0xFD, 0x00}, {0xFF}},
		onEmpty: cancel,
	}
	r := &Register{conn: conn, addr: 0x10}

	var got []byte
	err := r.Listen(ctx, func(cmd byte) { got = append(got, cmd) })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []byte{0xFA, 0xFF}, got)

	require.NoError(t, r.Write([]byte{0xDA}))
	assert.Equal(t, [][]byte{{0xDA}}, conn.sent)
}

func TestRegisterListenError(t *testing.T) {
	t.Parallel()

	r := &Register{conn: &fakeConn{err: errors.New("gone")}, addr: 0x10}
	err := r.Listen(context.Background(), func(byte) {})
	assert.ErrorContains(t, err, "gone")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Config{Device: "/dev/ttyAMA0"}.Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Device: "/dev/ttyAMA0", DriverEnable: "dtr"}.Validate())
	assert.Error(t, Config{Type: TypeRegister}.Validate())
	assert.NoError(t, Config{Type: TypeRegister, SlaveDriver: "slave-fob", SlaveDevice: "/dev/i2c-slave"}.Validate())
	assert.Error(t, Config{Type: "can"}.Validate())
}

func TestPrepareSerial(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	s, err := prepareSerial(port, 0x12, nil, true)
	require.NoError(t, err)
	assert.Equal(t, readTimeout, port.timeout)
	assert.Equal(t, []bool{false}, port.rts)
	assert.Equal(t, byte(0x12), s.station)

	port = &fakePort{toErr: errors.New("ioctl failed")}
	_, err = prepareSerial(port, 0x12, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ioctl failed")
}
