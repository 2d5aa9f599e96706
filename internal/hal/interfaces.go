package hal

import "context"

// GPIOPin is a single digital pin, written and read as a logical Level.
// Backends (periphhw, simhw) implement this directly against their own
// pin representation.
type GPIOPin interface {
	Write(Level) error
	Read() (Level, error)
}

// IRQPin is a GPIOPin that additionally supports blocking on a rising
// edge, used by the Fault Listener to wait on the GFI-status input
// without polling.
type IRQPin interface {
	GPIOPin
	// WaitForEdge blocks until a rising edge is observed on the pin or ctx
	// is done, whichever comes first. Returns (true, nil) on an observed
	// edge, (false, nil) on ctx cancellation, and a non-nil error on a
	// lower-level failure.
	WaitForEdge(ctx context.Context) (bool, error)
}

// PilotPWM drives the Control Pilot PWM peripheral: a 1kHz square wave
// whose duty cycle advertises the maximum current offer (spec §4.5,
// §6). Duty is a fraction in [0, +inf): values >= 1.0 saturate the
// peripheral to steady +12V, 0 saturates it to steady -12V.
type PilotPWM interface {
	SetDutyCycle(duty float64) error
}

// ADC is the shared SPI-attached sensor ADC (spec §4.6, "The sensor ADC
// is shared... and must be protected by a mutual-exclusion mechanism").
// Implementations perform one conversion per call; the Facade serialises
// concurrent access with its own mutex, so ADC implementations need not
// be safe for concurrent use themselves.
type ADC interface {
	ReadChannel(ctx context.Context, channel int) (uint16, error)
}

// Backend bundles every pin and peripheral the Facade drives. A concrete
// backend (periphhw for real hardware, simhw for tests/demo) constructs
// one of these and hands it to NewFacade.
type Backend struct {
	Contactor     GPIOPin
	RelayMirror   GPIOPin
	GFIStatus     IRQPin
	GFITest       GPIOPin
	GFIReset      GPIOPin
	PowerWatchdog GPIOPin
	Pilot         PilotPWM
	ADC           ADC
}
