package hal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/errcode"
	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/pilot"
)

// Facade implements the named operations of spec §4.6 against a Backend,
// and owns the one piece of cross-cutting discipline no backend can be
// trusted to get right on its own: contactor watchdog ordering (§4.5.2).
//
// Grounded on services/hal/devices/gpio_dout/device.go and pwm_out/device.go
// for the shape of a typed operation wrapping a raw pin, and on
// original_source/juicelib/src/peripherals.rs's power_pin_thread for the
// watchdog oscillation itself (there expressed as a crossbeam_channel::tick
// loop gated by an AtomicBool; here as a goroutine gated by a done channel).
type Facade struct {
	backend Backend
	log     zerolog.Logger
	cfg     config.Config

	adcMu sync.Mutex

	wdMu      sync.Mutex
	wdCancel  context.CancelFunc
	wdRunning bool
}

// NewFacade builds a Facade over the given backend.
func NewFacade(backend Backend, cfg config.Config, log zerolog.Logger) *Facade {
	return &Facade{backend: backend, cfg: cfg, log: log}
}

// startWatchdog begins toggling the power-watchdog pin at roughly 10kHz,
// 50% duty, until stopWatchdog is called. The first toggle (to High) is
// written before startWatchdog returns, so the pin is already oscillating
// when the caller goes on to write the contactor pin. Starting an
// already-running watchdog is a no-op (set_contactor is idempotent per its
// contract).
func (f *Facade) startWatchdog() {
	f.wdMu.Lock()
	defer f.wdMu.Unlock()
	if f.wdRunning {
		return
	}
	if err := f.backend.PowerWatchdog.Write(High); err != nil {
		f.log.Error().Err(err).Msg("power watchdog pin write failed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.wdCancel = cancel
	f.wdRunning = true
	go f.watchdogLoop(ctx, High)
}

func (f *Facade) watchdogLoop(ctx context.Context, level Level) {
	ticker := time.NewTicker(config.WatchdogToggleEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Leave the pin low on exit: a quiescent watchdog pin, not a
			// stuck-high one, is what "stopped oscillating" should mean.
			_ = f.backend.PowerWatchdog.Write(Low)
			return
		case <-ticker.C:
			level = !level
			if err := f.backend.PowerWatchdog.Write(level); err != nil {
				f.log.Error().Err(err).Msg("power watchdog pin write failed")
			}
		}
	}
}

func (f *Facade) stopWatchdog() {
	f.wdMu.Lock()
	defer f.wdMu.Unlock()
	if !f.wdRunning {
		return
	}
	f.wdCancel()
	f.wdRunning = false
}

// SetContactor commands the contactor relay, enforcing the watchdog
// ordering invariant of spec §4.5.2: turning On starts the watchdog
// oscillation strictly before the contactor pin write; turning Off writes
// the contactor pin low strictly before stopping the oscillation.
func (f *Facade) SetContactor(cmd OnOff) error {
	if cmd == On {
		f.startWatchdog()
		if err := f.backend.Contactor.Write(High); err != nil {
			f.stopWatchdog()
			return errcode.Wrap(errcode.GpioError, "SetContactor", err)
		}
		return nil
	}

	// cmd == Off: pin low first, watchdog stop second — even if the pin
	// write fails, the watchdog must still be stopped, since a failed
	// write means the contactor state is unknown and oscillating on
	// uncertainty is the more dangerous failure mode.
	err := f.backend.Contactor.Write(Low)
	f.stopWatchdog()
	if err != nil {
		return errcode.Wrap(errcode.GpioError, "SetContactor", err)
	}
	return nil
}

// SetCurrentOfferAmpere advertises the maximum current offer by setting
// the pilot PWM duty cycle (spec §4.5, "current advertisement"). Callers
// are responsible for clamping to config.MaxCurrentOfferAmps; this method
// does not clamp, since amps==0 and the saturation values documented on
// pilot.DutyCycle are meaningful inputs in their own right.
func (f *Facade) SetCurrentOfferAmpere(amps float64) error {
	duty := pilot.DutyCycle(amps)
	if err := f.backend.Pilot.SetDutyCycle(duty); err != nil {
		return errcode.Wrap(errcode.GpioError, "SetCurrentOfferAmpere", err)
	}
	return nil
}

// SetGroundTestPin drives the GFI-CT synthetic-fault line.
func (f *Facade) SetGroundTestPin(cmd OnOff) error {
	if err := f.backend.GFITest.Write(Level(cmd)); err != nil {
		return errcode.Wrap(errcode.GpioError, "SetGroundTestPin", err)
	}
	return nil
}

// GetContactorState reads the relay-mirror input: ground truth of whether
// the contactor is actually closed, as opposed to merely commanded.
func (f *Facade) GetContactorState() (OnOff, error) {
	lvl, err := f.backend.RelayMirror.Read()
	if err != nil {
		return Off, errcode.Wrap(errcode.GpioError, "GetContactorState", err)
	}
	return OnOff(lvl), nil
}

// GetGFIStatusPin reads the latched GFI indicator.
func (f *Facade) GetGFIStatusPin() (Level, error) {
	lvl, err := f.backend.GFIStatus.Read()
	if err != nil {
		return Low, errcode.Wrap(errcode.GpioError, "GetGFIStatusPin", err)
	}
	return lvl, nil
}

// ResetGFIStatusPin verifies that the GFI input reads Low, failing with
// HardwareFault otherwise. It only reads the pin: no pending edge or
// interrupt state on the GFI input is cleared.
func (f *Facade) ResetGFIStatusPin() error {
	lvl, err := f.backend.GFIStatus.Read()
	if err != nil {
		return errcode.Wrap(errcode.GpioError, "ResetGFIStatusPin", err)
	}
	if lvl != Low {
		return errcode.New(errcode.HardwareFault, "ResetGFIStatusPin", "GFI status pin did not clear to Low")
	}
	return nil
}

// GFIReset pulses the GFI-reset line: high for GFIResetPulseHigh, low for
// GFIResetPulseLow (spec §4.5.1 step 1, §6).
func (f *Facade) GFIReset() error {
	if err := f.backend.GFIReset.Write(High); err != nil {
		return errcode.Wrap(errcode.GpioError, "GFIReset", err)
	}
	time.Sleep(f.cfg.GFIResetPulseHigh)
	if err := f.backend.GFIReset.Write(Low); err != nil {
		return errcode.Wrap(errcode.GpioError, "GFIReset", err)
	}
	time.Sleep(f.cfg.GFIResetPulseLow)
	return nil
}

// SetWaitingForVehicle sets the pilot to steady +12V by saturating the
// PWM duty cycle above 1.0 (spec §4.5, §6).
func (f *Facade) SetWaitingForVehicle() error {
	if err := f.backend.Pilot.SetDutyCycle(pilot.WaitingForVehicleDuty); err != nil {
		return errcode.Wrap(errcode.GpioError, "SetWaitingForVehicle", err)
	}
	return nil
}

// SetPilotError drives the pilot to steady -12V by saturating the PWM duty
// cycle to pilot.ErrorPilotDuty, the signal a vehicle reads as a station
// fault (spec §4.5, §6). Used when the state machine forces FailedStation,
// rather than relying on SetCurrentOfferAmpere(0) to land on the same duty
// cycle incidentally.
func (f *Facade) SetPilotError() error {
	if err := f.backend.Pilot.SetDutyCycle(pilot.ErrorPilotDuty); err != nil {
		return errcode.Wrap(errcode.GpioError, "SetPilotError", err)
	}
	return nil
}

// RunGFISelfTest executes the GFI self-test procedure (spec §4.5.1),
// toggling the GFI-test pin through N half-cycles to synthesize a
// ground-fault and verifying the GFI-status input responds correctly at
// each step. Precondition: contactor Off, GFI-test pin Off (the caller,
// the EVSE State Machine, is responsible for having reached that state).
func (f *Facade) RunGFISelfTest() error {
	if err := f.GFIReset(); err != nil {
		return err
	}

	lvl, err := f.backend.GFIStatus.Read()
	if err != nil {
		return errcode.Wrap(errcode.GpioError, "RunGFISelfTest", err)
	}
	if lvl != Low {
		return errcode.New(errcode.SelfTestGFINotClear, "RunGFISelfTest", "GFI status not Low before oscillation burst")
	}

	level := Low
	for i := 0; i < f.cfg.SelfTestHalfCycles; i++ {
		level = !level
		if err := f.backend.GFITest.Write(level); err != nil {
			return errcode.Wrap(errcode.GpioError, "RunGFISelfTest", err)
		}
		time.Sleep(f.cfg.SelfTestHalfCycleNS)
	}
	if err := f.backend.GFITest.Write(Low); err != nil {
		return errcode.Wrap(errcode.GpioError, "RunGFISelfTest", err)
	}

	lvl, err = f.backend.GFIStatus.Read()
	if err != nil {
		return errcode.Wrap(errcode.GpioError, "RunGFISelfTest", err)
	}
	if lvl != High {
		return errcode.New(errcode.SelfTestGFINotTripped, "RunGFISelfTest", "mock ground fault not detected")
	}

	time.Sleep(f.cfg.SelfTestClearWindow)
	if err := f.GFIReset(); err != nil {
		return err
	}
	lvl, err = f.backend.GFIStatus.Read()
	if err != nil {
		return errcode.Wrap(errcode.GpioError, "RunGFISelfTest", err)
	}
	if lvl != Low {
		return errcode.New(errcode.SelfTestGFINotReset, "RunGFISelfTest", "mock fault not cleared")
	}
	return nil
}

// AssertRelayMirror polls the relay-mirror input until it agrees with the
// expected contactor state, or RelayMirrorTimeout elapses, in which case
// it returns a RelayMirrorMismatch error (spec §3 global invariant). Like
// any error from a transition action, it drives the state machine to
// FailedStation.
func (f *Facade) AssertRelayMirror(want OnOff) error {
	deadline := time.Now().Add(f.cfg.RelayMirrorTimeout)
	for {
		got, err := f.GetContactorState()
		if err != nil {
			return err
		}
		if got == want {
			return nil
		}
		if time.Now().After(deadline) {
			return errcode.New(errcode.RelayMirrorMismatch, "AssertRelayMirror", "relay mirror did not settle to expected state")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// WithADC serialises access to the shared sensor ADC across the Sensor
// Sampler and the GFI self-test (spec §4.6, §5 "ADC device — exclusive-
// access lock, held only across one read or one sampling window").
func (f *Facade) WithADC(fn func(ADC) error) error {
	f.adcMu.Lock()
	defer f.adcMu.Unlock()
	return fn(f.backend.ADC)
}

// ContactorCommanded reports whether the contactor is currently commanded
// On, i.e. whether the watchdog oscillation is running. This is the
// commanded state, not the relay-mirror's physical reading — the Fault
// Listener uses it to decide whether a GFI-status edge is a real fault or
// an artifact of the self-test's deliberate toggling while the contactor
// is off (spec §4.4).
func (f *Facade) ContactorCommanded() bool {
	f.wdMu.Lock()
	defer f.wdMu.Unlock()
	return f.wdRunning
}

// WaitGFIStatusEdge blocks until a rising edge on the GFI-status pin or
// ctx cancellation, for use by the Fault Listener.
func (f *Facade) WaitGFIStatusEdge(ctx context.Context) (bool, error) {
	ok, err := f.backend.GFIStatus.WaitForEdge(ctx)
	if err != nil {
		return false, errcode.Wrap(errcode.GpioError, "WaitGFIStatusEdge", err)
	}
	return ok, nil
}
