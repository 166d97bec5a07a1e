package indicator

// Noop implements Actuator but does nothing.
// Used for outputs that are not configured.
type Noop struct{}

// On implements Actuator.On.
func (Noop) On() {}

// Off implements Actuator.Off.
func (Noop) Off() {}

// Release implements Actuator.Release.
func (Noop) Release() error {
	return nil
}
