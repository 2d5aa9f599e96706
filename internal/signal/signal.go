// Package signal implements the Signal Conditioner (spec §4.1): pure,
// stateless conversions from raw ADC codes to physical units. Grounded on
// the original juicelib/src/adc.rs to_volts/to_amps/from_vdiv_to_pilot
// functions, generalised to take the reference voltage explicitly instead
// of hard-coding it; the 10-bit resolution (1024 codes) stays fixed.
package signal

import "github.com/dkronst/juiced-go/internal/config"

// CodeToVolts converts a raw 10-bit ADC code (0..1023) to volts at the ADC
// pin, given the reference voltage. The core always calls this with
// config.VRef and a 10-bit code, per spec.
func CodeToVolts(code uint16, vref float64) float64 {
	return float64(code) * vref / 1024.0
}

// VdivToPilot maps a voltage measured at the ADC input (after the pilot
// signal's resistive divider) to the actual Control Pilot voltage. The
// divider is such that 0.9V at the ADC represents -12V on the pilot line
// and 4.55V represents +12V; the map is affine between those two anchors.
//
//	V_pilot = (24/3.65)*V_adc - (24/3.65)*0.9 - 12
func VdivToPilot(vadc float64) float64 {
	const slope = 24.0 / 3.65
	return slope*vadc - slope*0.9 - 12.0
}

// CodeToAmps converts a raw current-sense ADC code to amps using the
// Hall-sensor linear model: 66 mV/A, zero at V_ref/2.
func CodeToAmps(code uint16, vref float64) float64 {
	volts := CodeToVolts(code, vref)
	return (volts - vref/2) / config.CurrentSenseMVA
}
