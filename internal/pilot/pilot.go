// Package pilot implements the Pilot Classifier (spec §4.2): the map from
// a (min,max) Control-Pilot voltage pair — as measured over one sampling
// window — to a discrete Pilot Symbol, plus the inverse direction: turning
// a requested current offer into a PWM duty cycle (spec §4.5, "current
// advertisement"). Grounded on the state names in
// original_source/juicelib/src/evse.rs (EVSEInput variants PilotIs12V,
// PilotIs9V, … PilotInError) and the windows described in spec §4.2.
package pilot

import "github.com/dkronst/juiced-go/internal/config"

// Symbol is the discrete pilot reading the classifier produces.
type Symbol int

const (
	Plus12V Symbol = iota
	Plus9V
	Plus6V
	Plus3V
	Zero
	Minus12V
	Error
)

func (s Symbol) String() string {
	switch s {
	case Plus12V:
		return "+12V"
	case Plus9V:
		return "+9V"
	case Plus6V:
		return "+6V"
	case Plus3V:
		return "+3V"
	case Zero:
		return "0V"
	case Minus12V:
		return "-12V"
	default:
		return "ERROR"
	}
}

// window is an inclusive ±1V band around a canonical pilot voltage.
type window struct {
	lo, hi float64
	sym    Symbol
}

// classifyWindows lists the max-volts windows in evaluation order. Zero is
// intentionally absent here: spec §4.2 only accepts it "via a dedicated
// disconnected-vehicle path" (see ClassifyDisconnected), not through the
// generic oscillating-pilot classification.
var classifyWindows = []window{
	{11, 13, Plus12V},
	{8, 10, Plus9V},
	{5, 7, Plus6V},
	{2, 4, Plus3V},
	{-13, -11, Minus12V},
}

// Classify maps a (vMin, vMax) pair — in pilot-referenced volts, over a
// sampling window during normal PWM operation — to a Symbol, following
// spec §4.2's rules in order:
//
//  1. vMin must sit in [-13,-11] while the pilot is oscillating; if it does
//     not (and is negative, i.e. the signal dipped low but missed the
//     -12V rail), the pilot isn't oscillating correctly and the result is
//     Error regardless of vMax.
//  2. Otherwise vMax is classified against ±1V windows around the
//     canonical values.
//
// Classify is a total function: every (vMin, vMax) pair of finite floats
// yields exactly one Symbol (possibly Error).
func Classify(vMin, vMax float64) Symbol {
	if vMin < 0 && (vMin < -13 || vMin > -11) {
		return Error
	}
	for _, w := range classifyWindows {
		if vMax >= w.lo && vMax <= w.hi {
			return w.sym
		}
	}
	return Error
}

// ClassifyDisconnected interprets a (vMin, vMax) pair under the dedicated
// disconnected-vehicle path, where a pilot reading near 0V on both bounds
// is accepted as Zero rather than Error. Spec §4.2: "Zero is accepted only
// within [-1,1] when that interpretation is reached via a dedicated
// disconnected-vehicle path."
func ClassifyDisconnected(vMin, vMax float64) Symbol {
	if vMin >= -1 && vMin <= 1 && vMax >= -1 && vMax <= 1 {
		return Zero
	}
	return Classify(vMin, vMax)
}

// DutyCycle converts a requested current offer (amps) into the Control
// Pilot PWM duty cycle fraction, per spec §4.5: duty = amps / 0.6 / 100,
// using the J1772 10-85% range conversion constant of 0.6A per percent.
// The result is NOT clamped: callers must clamp per spec's design note —
// a duty >= 1.0 deliberately saturates the PWM peripheral to steady +12V
// ("waiting for vehicle"), and a duty of 0 saturates to steady -12V
// ("error pilot").
func DutyCycle(amps float64) float64 {
	return amps / config.PilotAmpsPerDuty / 100.0
}

// WaitingForVehicleDuty is the duty cycle value that saturates the PWM
// peripheral to steady +12V, used whenever no vehicle is present.
const WaitingForVehicleDuty = 1.01

// ErrorPilotDuty is the duty cycle value that saturates the PWM peripheral
// to steady -12V.
const ErrorPilotDuty = 0.0
