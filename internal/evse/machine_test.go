package evse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/hal"
)

// fakeFacade is a hand-rolled double (in the style of
// services/hal/gpio_worker_test.go's fakePin/fakeIRQPin) recording every
// commanded contactor state and letting a test force the next self-test
// outcome.
type fakeFacade struct {
	mu sync.Mutex

	contactorOn    bool
	contactorLog   []bool // true=On, false=Off, in call order
	currentOffer   float64
	selfTestShouldFail bool
	selfTestCalls  int
	failNextOp     error
}

func (f *fakeFacade) SetContactor(cmd hal.OnOff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextOp != nil {
		err := f.failNextOp
		f.failNextOp = nil
		return err
	}
	f.contactorOn = bool(cmd)
	f.contactorLog = append(f.contactorLog, bool(cmd))
	return nil
}

func (f *fakeFacade) SetCurrentOfferAmpere(amps float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentOffer = amps
	return nil
}

func (f *fakeFacade) SetGroundTestPin(hal.OnOff) error { return nil }

func (f *fakeFacade) AssertRelayMirror(want hal.OnOff) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bool(want) != f.contactorOn {
		return errMismatch
	}
	return nil
}

func (f *fakeFacade) RunGFISelfTest() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selfTestCalls++
	if f.selfTestShouldFail {
		return errSelfTestFailed
	}
	return nil
}

func (f *fakeFacade) SetWaitingForVehicle() error { return nil }

func (f *fakeFacade) SetPilotError() error { return nil }

func (f *fakeFacade) contactorOnPeriods() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.contactorLog))
	copy(out, f.contactorLog)
	return out
}

var errMismatch = fakeErr("relay mirror mismatch")
var errSelfTestFailed = fakeErr("self-test failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeGate struct {
	mu        sync.Mutex
	listening bool
}

func (g *fakeGate) SetListenToPilot(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listening = on
}

func testConfig() config.Config {
	c := config.Default()
	c.StandbySettle = time.Millisecond
	c.RelaySettle = time.Millisecond
	c.J1772PrechargeGrace = time.Millisecond
	c.SelfTestStepSettle = time.Millisecond
	c.PreDisconnectSettle = time.Millisecond
	return c
}

// harness wires a Machine to directly-fed pilot/fault channels and runs
// it in the background, giving the test a way to inject inputs and
// observe the resulting state.
type harness struct {
	m        *Machine
	facade   *fakeFacade
	gate     *fakeGate
	pilotCh  chan PilotReading
	faultCh  chan hal.Fault
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	facade := &fakeFacade{}
	gate := &fakeGate{}
	pilotCh := make(chan PilotReading, 16)
	faultCh := make(chan hal.Fault, 16)

	m := New(facade, gate, testConfig(), zerolog.Nop(), pilotCh, faultCh)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	return &harness{m: m, facade: facade, gate: gate, pilotCh: pilotCh, faultCh: faultCh, cancel: cancel, done: done}
}

func (h *harness) injectPilot(min, max float64) {
	h.pilotCh <- PilotReading{Min: min, Max: max}
}

func (h *harness) injectFault(f hal.Fault) {
	h.faultCh <- f
}

// awaitState polls until the machine reports the wanted state or the
// timeout elapses.
func (h *harness) awaitState(t *testing.T, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, currently %v", want, h.m.State())
}

func TestS1_CleanChargeCycle(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.awaitState(t, Standby, time.Second) // boot self-test passes

	h.injectPilot(-12, 12) // P+12, self-loop, stays Standby
	h.awaitState(t, Standby, time.Second)

	h.injectPilot(-12, 9) // P+9 -> VehicleDetected
	h.awaitState(t, VehicleDetected, time.Second)

	h.injectPilot(-12, 6) // P+6 -> StartCharging -> self-test -> Charging
	h.awaitState(t, Charging, time.Second)

	h.injectPilot(-12, 9) // P+9 -> StopCharging -> ChargingFinished -> Standby
	h.awaitState(t, Standby, time.Second)

	h.injectPilot(-12, 12)
	h.awaitState(t, Standby, time.Second)

	periods := h.facade.contactorOnPeriods()
	if len(periods) == 0 {
		t.Fatal("expected at least one contactor command")
	}
	// Contactor must have gone On during the cycle and ended Off.
	sawOn := false
	for _, on := range periods {
		if on {
			sawOn = true
		}
	}
	if !sawOn {
		t.Fatal("expected contactor to have been commanded On at least once")
	}
	if periods[len(periods)-1] {
		t.Fatal("expected contactor to be Off at the end of the cycle")
	}
}

func TestS2_GFIDuringCharge(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.awaitState(t, Standby, time.Second)
	h.injectPilot(-12, 9)
	h.awaitState(t, VehicleDetected, time.Second)
	h.injectPilot(-12, 6)
	h.awaitState(t, Charging, time.Second)

	h.injectFault(hal.GFIInterrupted)
	h.awaitState(t, FailedStation, time.Second)

	// FailedStation is reported before its entry action runs; Run returns
	// only after it, so wait for Run before checking the contactor.
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after FailedStation")
	}
	if h.facade.contactorOn {
		t.Fatal("expected contactor Off after FailedStation")
	}
}

func TestS3_SelfTestFailureAtBoot(t *testing.T) {
	facade := &fakeFacade{selfTestShouldFail: true}
	gate := &fakeGate{}
	pilotCh := make(chan PilotReading, 16)
	faultCh := make(chan hal.Fault, 16)
	m := New(facade, gate, testConfig(), zerolog.Nop(), pilotCh, faultCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && m.State() != FailedStation {
		time.Sleep(time.Millisecond)
	}
	if m.State() != FailedStation {
		t.Fatalf("expected FailedStation after boot self-test failure, got %v", m.State())
	}
}

func TestS5_VentilationNeeded(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.awaitState(t, Standby, time.Second)
	h.injectPilot(-12, 9)
	h.awaitState(t, VehicleDetected, time.Second)

	h.injectPilot(-12, 3) // P+3 -> VentilationNeeded
	h.awaitState(t, VentilationNeeded, time.Second)
}

func TestS6_PilotErrorRecoverable(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.awaitState(t, Standby, time.Second)
	h.injectPilot(-12, 9)
	h.awaitState(t, VehicleDetected, time.Second)

	h.injectPilot(0, 0) // classified Error -> PilotInError -> ResetableError
	h.awaitState(t, ResetableError, time.Second)

	h.injectPilot(-12, 12) // P+12 -> Standby
	h.awaitState(t, Standby, time.Second)
}

func TestInvariant_ContactorOnlyOnDuringChargingStates(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.awaitState(t, Standby, time.Second)
	if h.facade.contactorOn {
		t.Fatal("contactor must not be On in Standby")
	}
	h.injectPilot(-12, 9)
	h.awaitState(t, VehicleDetected, time.Second)
	if h.facade.contactorOn {
		t.Fatal("contactor must not be On in VehicleDetected")
	}
}

func TestInvariant_FailedStationIsAbsorbing(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	h.awaitState(t, Standby, time.Second)
	h.injectFault(hal.GFIInterrupted) // no row for Standby+GFI other than FailedStation
	h.awaitState(t, FailedStation, time.Second)

	// Further inputs must not move it out of FailedStation.
	h.injectPilot(-12, 12)
	h.injectFault(hal.NoGround)
	time.Sleep(20 * time.Millisecond)
	if h.m.State() != FailedStation {
		t.Fatalf("FailedStation is not absorbing: moved to %v", h.m.State())
	}
}
