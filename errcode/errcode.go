// Package errcode defines the stable error vocabulary of the EVSE control
// core. The hardware facade reports its failures with these codes; the
// state machine does not switch on them, it halts the station on any
// error a transition action returns.
package errcode

// Code is a stable, comparable error identifier. It is a string newtype,
// allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes. These map onto spec §7's error kinds.
const (
	// PoisonError indicates a shared lock (ADC mutex, GPIO pin-set mutex,
	// sensors-store lock) was found corrupted — a recovered panic while
	// holding it. Always fatal.
	PoisonError Code = "poison_error"

	// GpioError is any lower-level pin/PWM/SPI failure surfaced by the
	// hardware facade or one of its backends.
	GpioError Code = "gpio_error"

	// HardwareFault is the umbrella code for self-test failure, relay-mirror
	// mismatch, or any facade operation failure. Producing this always
	// drives the state machine to FailedStation.
	HardwareFault Code = "hardware_fault"

	// InternalFaultThreadError means the fault listener goroutine itself
	// crashed (recovered panic, or its interrupt subscription failed).
	InternalFaultThreadError Code = "internal_fault_thread_error"
)

// Specific codes for the GFI self-test steps (spec §4.5.1) and the
// relay-mirror check, returned in place of the generic HardwareFault so
// the error names the step that failed.
const (
	SelfTestGFINotClear   Code = "selftest_gfi_not_clear"
	SelfTestGFINotTripped Code = "selftest_gfi_not_tripped"
	SelfTestGFINotReset   Code = "selftest_gfi_not_reset"
	RelayMirrorMismatch   Code = "relay_mirror_mismatch"
)

// E wraps a Code with context and an optional cause, mirroring the
// teacher's errcode.E: Op names the operation, Msg is a free-form detail,
// Err is the underlying cause if any.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s += " [" + e.Op + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// New builds an *E with the given code, operation and message.
func New(c Code, op, msg string) *E { return &E{C: c, Op: op, Msg: msg} }

// Wrap builds an *E around an existing cause.
func Wrap(c Code, op string, err error) *E {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Msg: err.Error(), Err: err}
}

// Of extracts a Code from an error, defaulting to HardwareFault — almost
// every unrecognised low-level error in this system is a reason to
// de-energize, so the conservative default is the hardware-fault code.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return HardwareFault
}
