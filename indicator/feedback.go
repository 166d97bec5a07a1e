package indicator

import "time"

// Feedback sequences the activity LED and buzzer. It is only ever driven
// from the control goroutine and is not safe for concurrent use.
type Feedback struct {
	led    Actuator
	buzzer Actuator
	power  Actuator

	// Cadence is the on time of each reject pulse.
	Cadence time.Duration

	// Repeats is the number of reject pulses.
	Repeats int

	sleep func(time.Duration)
}

// NewFeedback returns a controller with the default reject timing.
func NewFeedback(led, buzzer, power Actuator) *Feedback {
	return &Feedback{
		led:     led,
		buzzer:  buzzer,
		power:   power,
		Cadence: DefaultCadence,
		Repeats: DefaultRepeats,
		sleep:   time.Sleep,
	}
}

// SetSleep replaces the function used to wait between pulses.
func (f *Feedback) SetSleep(sleep func(time.Duration)) {
	f.sleep = sleep
}

// PowerOn lights the power LED and makes sure the activity outputs are off.
func (f *Feedback) PowerOn() {
	f.power.On()
	f.led.Off()
	f.buzzer.Off()
}

// AcceptStart turns the activity LED and buzzer on while a card is read.
func (f *Feedback) AcceptStart() {
	f.led.On()
	f.buzzer.On()
}

// AcceptEnd turns the activity LED and buzzer off. It must follow every
// AcceptStart.
func (f *Feedback) AcceptEnd() {
	f.buzzer.Off()
	f.led.Off()
}

// RejectSequence pulses the LED and buzzer Repeats times. It blocks for
// Repeats*Cadence.
func (f *Feedback) RejectSequence() {
	for i := 0; i < f.Repeats; i++ {
		f.led.On()
		f.buzzer.On()
		f.sleep(f.Cadence)
		f.buzzer.Off()
		f.led.Off()
	}
}

// Shutdown turns every output off.
func (f *Feedback) Shutdown() {
	f.AcceptEnd()
	f.power.Off()
}

// Release turns every output off and frees the hardware.
func (f *Feedback) Release() error {
	var lastErr error
	for _, a := range []Actuator{f.led, f.buzzer, f.power} {
		if err := a.Release(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
