// Package simhw provides an in-memory simulated Backend for the Hardware
// Facade: no real GPIO/SPI access, just plain fields a test or demo-mode
// driver can poke directly. Mirrors the fakePin/fakeIRQPin test-double
// style of services/hal/gpio_worker_test.go and adaptor_gpio_test.go, but
// packaged as a reusable backend rather than inline test helpers, since
// the control core also needs a "-sim" runtime mode with no hardware
// attached.
package simhw

import (
	"context"
	"sync"

	"github.com/dkronst/juiced-go/internal/hal"
)

// Pin is a simulated GPIOPin: reads return whatever was last written (or
// last Set by a test), and writes are observable via Writes().
type Pin struct {
	mu      sync.Mutex
	level   hal.Level
	writes  int
	onWrite func(hal.Level)
}

func NewPin(initial hal.Level) *Pin { return &Pin{level: initial} }

func (p *Pin) Write(l hal.Level) error {
	p.mu.Lock()
	p.level = l
	p.writes++
	cb := p.onWrite
	p.mu.Unlock()
	if cb != nil {
		cb(l)
	}
	return nil
}

func (p *Pin) Read() (hal.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

// Set lets a test or simulator push a new level without going through
// Write (e.g. to simulate the contactor's relay mirror following the
// commanded contactor pin, or a GFI-status pin tripping on its own).
func (p *Pin) Set(l hal.Level) {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
}

// Writes reports how many times Write has been called, for tests that
// assert watchdog toggling actually happened.
func (p *Pin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// OnWrite installs a callback invoked synchronously after every Write,
// letting a test wire one pin's writes to another pin's level (e.g. the
// relay mirror tracking the contactor command).
func (p *Pin) OnWrite(cb func(hal.Level)) {
	p.mu.Lock()
	p.onWrite = cb
	p.mu.Unlock()
}

// IRQPin is a simulated IRQPin: WaitForEdge blocks on a channel that the
// test/simulator feeds by calling Trigger.
type IRQPin struct {
	Pin
	edge chan struct{}
	once sync.Once
}

func NewIRQPin(initial hal.Level) *IRQPin {
	return &IRQPin{Pin: Pin{level: initial}, edge: make(chan struct{}, 1)}
}

// Trigger simulates a rising edge: sets the pin High and wakes exactly
// one pending WaitForEdge call.
func (p *IRQPin) Trigger() {
	p.Set(hal.High)
	select {
	case p.edge <- struct{}{}:
	default:
	}
}

func (p *IRQPin) WaitForEdge(ctx context.Context) (bool, error) {
	select {
	case <-p.edge:
		return true, nil
	case <-ctx.Done():
		return false, nil
	}
}

// PWM is a simulated PilotPWM: records the last duty cycle set, for
// assertions.
type PWM struct {
	mu   sync.Mutex
	duty float64
}

func (w *PWM) SetDutyCycle(duty float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.duty = duty
	return nil
}

func (w *PWM) DutyCycle() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.duty
}

// ADC is a simulated ADC: each channel returns a caller-settable code.
type ADC struct {
	mu    sync.Mutex
	codes map[int]uint16
}

func NewADC() *ADC { return &ADC{codes: make(map[int]uint16)} }

func (a *ADC) SetChannel(channel int, code uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes[channel] = code
}

func (a *ADC) ReadChannel(ctx context.Context, channel int) (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.codes[channel], nil
}

// NewBackend returns a fully-wired simulated hal.Backend, with the relay
// mirror pre-wired to track the contactor pin (the common case: a healthy
// contactor whose mirror agrees with the command), and the GFI-status pin
// pre-wired to react to the GFI-test oscillation the way a real ground-fault
// interrupter would: driving GFI-test High trips GFI-status High, and the
// reset pulse's trailing Low clears it again. Without this wiring the self-
// test's oscillation burst would never be observed as a detected fault and
// -sim mode could never pass boot self-test. Tests that need to simulate a
// mirror mismatch or a self-test that never trips can call the relevant
// pin's OnWrite(nil) first, or construct the Backend fields individually.
func NewBackend() hal.Backend {
	contactor := NewPin(hal.Low)
	relayMirror := NewPin(hal.Low)
	contactor.OnWrite(func(l hal.Level) { relayMirror.Set(l) })

	gfiStatus := NewIRQPin(hal.Low)
	gfiTest := NewPin(hal.Low)
	gfiReset := NewPin(hal.Low)
	gfiTest.OnWrite(func(l hal.Level) {
		if l == hal.High {
			gfiStatus.Set(hal.High)
		}
	})
	gfiReset.OnWrite(func(l hal.Level) {
		if l == hal.Low {
			gfiStatus.Set(hal.Low)
		}
	})

	return hal.Backend{
		Contactor:     contactor,
		RelayMirror:   relayMirror,
		GFIStatus:     gfiStatus,
		GFITest:       gfiTest,
		GFIReset:      gfiReset,
		PowerWatchdog: NewPin(hal.Low),
		Pilot:         &PWM{},
		ADC:           NewADC(),
	}
}
