package evse

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/hal"
	"github.com/dkronst/juiced-go/internal/pilot"
)

// Facade is the subset of the Hardware Facade the state machine drives
// directly. *hal.Facade satisfies this.
type Facade interface {
	SetContactor(hal.OnOff) error
	SetCurrentOfferAmpere(amps float64) error
	SetGroundTestPin(hal.OnOff) error
	AssertRelayMirror(want hal.OnOff) error
	RunGFISelfTest() error
	SetWaitingForVehicle() error
	SetPilotError() error
}

// PilotGate lets the state machine suppress pilot-driven transitions
// during sensitive sequences without racing the Sensor Sampler (spec
// §4.3). *sampler.Sampler satisfies this.
type PilotGate interface {
	SetListenToPilot(on bool)
}

// PilotReading is the (min,max) Control-Pilot voltage tuple the machine
// receives from the Sensor Sampler. Defined locally (rather than imported
// from the sampler package) so evse does not need to import sampler just
// for this one struct shape; sampler.PilotReading has the same fields and
// is passed in by the caller wiring the channels together.
type PilotReading struct {
	Min, Max float64
}

// Machine runs the EVSE State Machine's main loop.
type Machine struct {
	facade Facade
	gate   PilotGate
	cfg    config.Config
	log    zerolog.Logger

	pilotCh <-chan PilotReading
	faultCh <-chan hal.Fault

	// state is only ever mutated by the goroutine running Run, but it is
	// read concurrently by State() — cmd/juiced's diagnostics poller and
	// every test's awaitState helper — so it's an atomic rather than a
	// bare field.
	state atomic.Int32
}

// New builds a Machine. pilotCh and faultCh are the bounded queues fed by
// the Sensor Sampler and Fault Listener respectively.
func New(facade Facade, gate PilotGate, cfg config.Config, log zerolog.Logger, pilotCh <-chan PilotReading, faultCh <-chan hal.Fault) *Machine {
	m := &Machine{
		facade:  facade,
		gate:    gate,
		cfg:     cfg,
		log:     log,
		pilotCh: pilotCh,
		faultCh: faultCh,
	}
	m.setState(SelfTest)
	return m
}

// State reports the machine's current state, for diagnostics. Safe to
// call concurrently with Run.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) setState(s State) { m.state.Store(int32(s)) }

// symbolToInput maps a Pilot Symbol (spec §4.2) to the corresponding
// table Input (spec §4.5).
func symbolToInput(sym pilot.Symbol) Input {
	switch sym {
	case pilot.Plus12V:
		return PPlus12
	case pilot.Plus9V:
		return PPlus9
	case pilot.Plus6V:
		return PPlus6
	case pilot.Plus3V:
		return PPlus3
	case pilot.Zero:
		return PZero
	case pilot.Minus12V:
		return PMinus12
	default:
		return PilotInError
	}
}

// faultToInput maps a Fault Listener event (spec §3/§4.4) to the
// corresponding table Input. InternalFaultThreadError routes to the same
// HardwareFault input as an action-internal failure, since a dead fault
// listener is itself a hardware-safety-relevant condition (spec §7).
func faultToInput(f hal.Fault) Input {
	switch f {
	case hal.GFIInterrupted:
		return GFIInterrupted
	case hal.NoGround:
		return NoGround
	case hal.PilotInError:
		return PilotInError
	default: // hal.InternalFaultThreadError
		return HardwareFault
	}
}

// Run executes the state machine until it reaches FailedStation or ctx is
// cancelled. On FailedStation it logs the halt at error level and returns, per spec §4.5
// ("log fatal and halt the control loop"); the caller (cmd/juiced) decides
// what halting the process actually means for the OS process.
func (m *Machine) Run(ctx context.Context) {
	next, hasNext, err := m.enter(m.State())
	for {
		if err != nil {
			m.forceFailedStation(err)
			return
		}
		if m.State() == FailedStation {
			m.log.Error().Msg("FailedStation reached, halting control loop")
			return
		}
		if hasNext {
			newState, ok := lookup(m.State(), next)
			if ok {
				m.setState(newState)
			}
			next, hasNext, err = m.enter(m.State())
			continue
		}

		select {
		case <-ctx.Done():
			return
		case r, open := <-m.pilotCh:
			if !open {
				m.pilotCh = nil
				continue
			}
			sym := pilot.Classify(r.Min, r.Max)
			if newState, ok := lookup(m.State(), symbolToInput(sym)); ok {
				m.setState(newState)
				next, hasNext, err = m.enter(m.State())
			}
		case f, open := <-m.faultCh:
			if !open {
				m.faultCh = nil
				continue
			}
			if newState, ok := lookup(m.State(), faultToInput(f)); ok {
				m.setState(newState)
				next, hasNext, err = m.enter(m.State())
			}
		}

		if m.pilotCh == nil && m.faultCh == nil {
			m.log.Warn().Msg("both pilot and fault queues closed, state machine idling forever")
			<-ctx.Done()
			return
		}
	}
}

// forceFailedStation implements the error propagation policy of spec §7:
// any error raised inside a transition action bypasses the transition
// table entirely (the table's HWFault column is undefined for
// ResetableError, which would otherwise violate testable invariant #2)
// and force-commands the contactor off, best-effort, before halting.
func (m *Machine) forceFailedStation(cause error) {
	m.log.Error().Err(cause).Str("from", m.State().String()).Msg("transition action failed, forcing FailedStation")
	_ = m.facade.SetContactor(hal.Off)
	_ = m.facade.SetPilotError()
	m.setState(FailedStation)
	m.log.Error().Msg("FailedStation reached, halting control loop")
}

// enter runs the entry action for the given state (spec §4.5) and
// returns a synthetic next input for transient states (SelfTest,
// StartCharging's self-test, StopCharging), or an error if the action
// failed.
func (m *Machine) enter(s State) (next Input, hasNext bool, err error) {
	switch s {
	case SelfTest:
		return m.enterSelfTest()
	case Standby:
		return 0, false, m.enterStandby()
	case VehicleDetected:
		return 0, false, m.enterVehicleDetected()
	case StartCharging:
		return m.enterStartCharging()
	case Charging:
		return 0, false, m.enterCharging()
	case StopCharging:
		return m.enterStopCharging()
	case NoPower:
		return 0, false, m.enterNoPower()
	case VentilationNeeded:
		// Spec §4.5 defines no entry action and no row for this state:
		// the machine simply sits here.
		return 0, false, nil
	case ResetableError:
		return 0, false, m.enterResetableError()
	case FailedStation:
		// Invariant #3 (spec §8): on entering FailedStation the
		// contactor-command is Off and the watchdog has stopped,
		// regardless of which path got here — the table-driven
		// GFI/NoGround/HWFault transitions included, not just the
		// action-error bypass in forceFailedStation.
		if err := m.facade.SetContactor(hal.Off); err != nil {
			m.log.Error().Err(err).Msg("failed to force contactor Off on entering FailedStation")
		}
		if err := m.facade.SetPilotError(); err != nil {
			m.log.Error().Err(err).Msg("failed to drive pilot to error duty on entering FailedStation")
		}
		m.log.Error().Msg("entering FailedStation")
		return 0, false, nil
	default:
		return 0, false, nil
	}
}

func (m *Machine) enterSelfTest() (Input, bool, error) {
	m.gate.SetListenToPilot(false)
	if err := m.facade.RunGFISelfTest(); err != nil {
		return SelfTestFailed, true, nil
	}
	return SelfTestOk, true, nil
}

func (m *Machine) enterStandby() error {
	if err := m.facade.SetContactor(hal.Off); err != nil {
		return err
	}
	if err := m.facade.SetWaitingForVehicle(); err != nil {
		return err
	}
	if err := m.facade.SetGroundTestPin(hal.Off); err != nil {
		return err
	}
	time.Sleep(m.cfg.StandbySettle)
	if err := m.facade.AssertRelayMirror(hal.Off); err != nil {
		return err
	}
	m.gate.SetListenToPilot(true)
	return nil
}

func (m *Machine) enterVehicleDetected() error {
	if err := m.facade.SetContactor(hal.Off); err != nil {
		return err
	}
	time.Sleep(m.cfg.RelaySettle)
	if err := m.facade.AssertRelayMirror(hal.Off); err != nil {
		return err
	}
	if err := m.facade.SetCurrentOfferAmpere(config.MaxCurrentOfferAmps); err != nil {
		return err
	}
	if err := m.facade.SetGroundTestPin(hal.Off); err != nil {
		return err
	}
	return nil
}

func (m *Machine) enterStartCharging() (Input, bool, error) {
	time.Sleep(m.cfg.J1772PrechargeGrace)
	if err := m.facade.AssertRelayMirror(hal.Off); err != nil {
		return 0, false, err
	}
	if err := m.facade.SetContactor(hal.Off); err != nil {
		return 0, false, err
	}
	time.Sleep(m.cfg.SelfTestStepSettle)

	if err := m.facade.RunGFISelfTest(); err != nil {
		// Spec §4.5: "On failure, surface HardwareFault" — distinct from
		// SelfTest's own SelfTestFailed input, this is the generic
		// action-error bypass straight to FailedStation.
		return 0, false, err
	}

	if err := m.facade.SetContactor(hal.On); err != nil {
		return 0, false, err
	}
	time.Sleep(m.cfg.SelfTestStepSettle)
	if err := m.facade.AssertRelayMirror(hal.On); err != nil {
		return 0, false, err
	}
	return SelfTestOk, true, nil
}

func (m *Machine) enterCharging() error {
	return m.facade.AssertRelayMirror(hal.On)
}

func (m *Machine) enterStopCharging() (Input, bool, error) {
	if err := m.facade.SetCurrentOfferAmpere(0); err != nil {
		return 0, false, err
	}
	time.Sleep(m.cfg.PreDisconnectSettle)
	if err := m.facade.SetContactor(hal.Off); err != nil {
		return 0, false, err
	}
	time.Sleep(m.cfg.RelaySettle)
	if err := m.facade.AssertRelayMirror(hal.Off); err != nil {
		return 0, false, err
	}
	return ChargingFinished, true, nil
}

func (m *Machine) enterNoPower() error {
	if err := m.facade.SetCurrentOfferAmpere(0); err != nil {
		return err
	}
	if err := m.facade.SetContactor(hal.Off); err != nil {
		return err
	}
	return m.facade.SetGroundTestPin(hal.Off)
}

func (m *Machine) enterResetableError() error {
	if err := m.facade.SetCurrentOfferAmpere(0); err != nil {
		return err
	}
	return m.facade.SetContactor(hal.Off)
}
