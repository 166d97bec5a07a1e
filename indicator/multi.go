package indicator

// Multi drives several actuators as one.
type Multi struct {
	actuators []Actuator
}

// NewMulti combines actuators.
func NewMulti(actuators ...Actuator) *Multi {
	return &Multi{actuators: actuators}
}

// On implements Actuator.On.
func (m *Multi) On() {
	for _, a := range m.actuators {
		a.On()
	}
}

// Off implements Actuator.Off.
func (m *Multi) Off() {
	for _, a := range m.actuators {
		a.Off()
	}
}

// Release implements Actuator.Release.
func (m *Multi) Release() error {
	var lastErr error
	for _, a := range m.actuators {
		if err := a.Release(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
