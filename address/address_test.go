package address

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fobreader/gpio"
)

type fakeInput struct {
	high   bool
	err    error
	closed bool
}

func (f *fakeInput) Read() (bool, error) { return f.high, f.err }
func (f *fakeInput) Close() error        { f.closed = true; return nil }

type fakeOpener struct {
	levels map[int]bool
	opened []*fakeInput
	pullUp []bool
}

func (o *fakeOpener) Output(int, bool) (gpio.Output, error) { return gpio.Noop{}, nil }

func (o *fakeOpener) Input(pin int, pullUp bool) (gpio.Input, error) {
	in := &fakeInput{high: o.levels[pin]}
	o.opened = append(o.opened, in)
	o.pullUp = append(o.pullUp, pullUp)
	return in, nil
}

func (o *fakeOpener) Close() error { return nil }

func inputs(levels ...bool) []gpio.Input {
	out := make([]gpio.Input, len(levels))
	for i, l := range levels {
		out[i] = &fakeInput{high: l}
	}
	return out
}

func TestResolveMSBFirst(t *testing.T) {
	t.Parallel()

	tests := []struct {
		levels []bool
		want   Address
	}{
		{[]bool{false, false, false}, 0x10},
		{[]bool{true, true, true}, 0x17},
		{[]bool{true, false, false}, 0x14},
		{[]bool{false, false, true}, 0x11},
		{[]bool{false, true, true}, 0x13},
	}
	for _, tt := range tests {
		got, err := Resolve(inputs(tt.levels...), time.Millisecond, false, func(time.Duration) {})
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.levels)
	}
}

func TestResolveLSBFirst(t *testing.T) {
	t.Parallel()

	got, err := Resolve(inputs(true, false, false), time.Millisecond, true, func(time.Duration) {})
	require.NoError(t, err)
	assert.Equal(t, Address(0x11), got)
	assert.Equal(t, 1, got.Offset())
	assert.Equal(t, "0x11", got.String())
}

func TestResolveSettlesEachPin(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	_, err := Resolve(inputs(true, true, true), 2*time.Millisecond, false, func(d time.Duration) {
		waits = append(waits, d)
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	_, err := Resolve(inputs(true, true), time.Millisecond, false, func(time.Duration) {})
	assert.Error(t, err)

	bad := []gpio.Input{&fakeInput{}, &fakeInput{err: errors.New("line busy")}, &fakeInput{}}
	_, err = Resolve(bad, time.Millisecond, false, func(time.Duration) {})
	assert.ErrorContains(t, err, "A1")
}

func TestReadOpensPulledUpInputs(t *testing.T) {
	t.Parallel()

	op := &fakeOpener{levels: map[int]bool{11: true, 10: false, 9: true}}
	addr, err := Read(op, Config{Pins: []int{11, 10, 9}, SettleMS: 1})
	require.NoError(t, err)
	assert.Equal(t, Address(0x15), addr)

	require.Len(t, op.opened, 3)
	for i, in := range op.opened {
		assert.True(t, op.pullUp[i])
		assert.True(t, in.closed, "pin %d released", i)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Config{Pins: []int{1, 2}, SettleMS: 1}.Validate())
	assert.Error(t, Config{Pins: []int{1, 2, 3}}.Validate())
	assert.NoError(t, Config{Pins: []int{1, 2, 3}, SettleMS: 1}.Validate())
}
