// Package hal is the Hardware Facade (spec §4.6): the boundary between the
// EVSE State Machine and the physical plant. It defines the pin-level
// abstractions (GPIOPin, IRQPin, PilotPWM, ADC), the named facade
// operations the core requires of any concrete backend, and a Facade
// implementation that enforces the contactor watchdog ordering invariant
// (§4.5.2) regardless of which backend is plugged in underneath.
//
// Grounded on services/hal/types.go's Adaptor/GPIOPin/IRQPin shape,
// generalised from the tinygo.org/x/drivers bare-metal pin model to a
// periph.io-flavoured one (Level/error-returning reads and writes,
// context-aware edge waits) since the target here is a Linux host, not a
// microcontroller.
package hal

import "fmt"

// Level is a digital pin level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}

// OnOff is the boolean analogue for a commanded pin level (spec §3). It is
// distinguished from Level because "commanded contactor state" and "pin
// level" are conceptually different things that happen to share a
// representation: OnOff is a command/intent, Level is a physical reading.
type OnOff bool

const (
	Off OnOff = false
	On  OnOff = true
)

func (o OnOff) String() string {
	if o {
		return "On"
	}
	return "Off"
}

// Fault is the tagged variant of asynchronous fault conditions the core
// reacts to (spec §3).
type Fault int

const (
	GFIInterrupted Fault = iota
	NoGround
	PilotInError
	InternalFaultThreadError
)

func (f Fault) String() string {
	switch f {
	case GFIInterrupted:
		return "GFIInterrupted"
	case NoGround:
		return "NoGround"
	case PilotInError:
		return "PilotInError"
	case InternalFaultThreadError:
		return "InternalFaultThreadError"
	default:
		return fmt.Sprintf("Fault(%d)", int(f))
	}
}
