package evse

// table is the literal transition table of spec §4.5: table[from][input]
// gives the next state for a defined cell. A (state, input) pair absent
// from the inner map is "undefined" per spec and is ignored — the
// machine stays in its current state, and critically, does NOT re-run
// that state's entry action (unlike a defined self-transition, which
// does: see Machine.Run). FailedStation has no row:
// it is absorbing, so every input is undefined for it by construction.
var table = map[State]map[Input]State{
	SelfTest: {
		SelfTestOk:     Standby,
		SelfTestFailed: FailedStation,
	},
	Standby: {
		PPlus12:        Standby,
		PPlus9:         VehicleDetected,
		PPlus6:         ResetableError,
		PPlus3:         ResetableError,
		PMinus12:       FailedStation,
		GFIInterrupted: FailedStation,
		NoGround:       FailedStation,
		HardwareFault:  FailedStation,
	},
	VehicleDetected: {
		PPlus12:        Standby,
		PPlus9:         VehicleDetected,
		PPlus6:         StartCharging,
		PPlus3:         VentilationNeeded,
		PMinus12:       NoPower,
		PilotInError:   ResetableError,
		GFIInterrupted: FailedStation,
		NoGround:       FailedStation,
		HardwareFault:  FailedStation,
	},
	StartCharging: {
		SelfTestOk:     Charging,
		SelfTestFailed: ResetableError,
		PilotInError:   ResetableError,
		GFIInterrupted: FailedStation,
		NoGround:       FailedStation,
		HardwareFault:  FailedStation,
	},
	Charging: {
		PPlus12:        StopCharging,
		PPlus9:         StopCharging,
		PPlus6:         Charging,
		PPlus3:         VentilationNeeded,
		PMinus12:       StopCharging,
		PilotInError:   StopCharging,
		GFIInterrupted: FailedStation,
		NoGround:       FailedStation,
		HardwareFault:  FailedStation,
	},
	StopCharging: {
		PilotInError:     ResetableError,
		GFIInterrupted:   FailedStation,
		NoGround:         FailedStation,
		HardwareFault:    FailedStation,
		ChargingFinished: Standby,
	},
	NoPower: {
		PMinus12:      NoPower,
		HardwareFault: FailedStation,
	},
	// VentilationNeeded has no row: every input is undefined for it, so
	// the machine sits there until an operator power-cycles the station.
	// Spec §4.5 names no entry action or exit transition for it either.
	ResetableError: {
		PPlus12: Standby,
	},
	// FailedStation: absorbing, no row.
}

// lookup returns the next state for (from, input), and whether the cell
// was defined.
func lookup(from State, input Input) (State, bool) {
	row, ok := table[from]
	if !ok {
		return from, false
	}
	next, ok := row[input]
	return next, ok
}
