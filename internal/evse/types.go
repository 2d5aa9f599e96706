// Package evse implements the EVSE State Machine (spec §4.5): the J1772
// states and transition table, the per-state entry actions driving the
// Hardware Facade, the GFI self-test gate before energization, and the
// main select loop consuming pilot readings and faults.
//
// Grounded on original_source/juicelib/src/evse.rs's state/input naming
// (the `rust_fsm`-macro FSM there is simpler — no StartCharging/
// StopCharging, no self-test wiring — but it fixes the canonical names,
// including the literal "ResetableError" spelling carried through to the
// Go State constant here) and on the teacher's general preference for
// small tagged-variant types (cf. services/hal/types.go's Edge/Pull) over
// string-typed state.
package evse

import "fmt"

// State is the EVSE State Machine's current mode (spec §3).
type State int

const (
	SelfTest State = iota
	Standby
	VehicleDetected
	StartCharging
	Charging
	StopCharging
	NoPower
	VentilationNeeded
	ResetableError
	FailedStation
)

func (s State) String() string {
	switch s {
	case SelfTest:
		return "SelfTest"
	case Standby:
		return "Standby"
	case VehicleDetected:
		return "VehicleDetected"
	case StartCharging:
		return "StartCharging"
	case Charging:
		return "Charging"
	case StopCharging:
		return "StopCharging"
	case NoPower:
		return "NoPower"
	case VentilationNeeded:
		return "VentilationNeeded"
	case ResetableError:
		return "ResetableError"
	case FailedStation:
		return "FailedStation"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Input is the tagged variant of events the state machine reacts to
// (spec §3/§4.5): pilot-classifier outputs, fault-channel events, and the
// synthetic inputs transient states inject to thread uniformly through
// the transition table (spec §9 "State machine encoding").
type Input int

const (
	SelfTestOk Input = iota
	SelfTestFailed
	PPlus12
	PPlus9
	PPlus6
	PPlus3
	PZero
	PMinus12
	PilotInError
	GFIInterrupted
	NoGround
	HardwareFault
	ChargingFinished
)

func (i Input) String() string {
	switch i {
	case SelfTestOk:
		return "SelfTestOk"
	case SelfTestFailed:
		return "SelfTestFailed"
	case PPlus12:
		return "P+12"
	case PPlus9:
		return "P+9"
	case PPlus6:
		return "P+6"
	case PPlus3:
		return "P+3"
	case PZero:
		return "P0"
	case PMinus12:
		return "P-12"
	case PilotInError:
		return "PErr"
	case GFIInterrupted:
		return "GFI"
	case NoGround:
		return "NoGnd"
	case HardwareFault:
		return "HWFault"
	case ChargingFinished:
		return "ChargingFinished"
	default:
		return fmt.Sprintf("Input(%d)", int(i))
	}
}
