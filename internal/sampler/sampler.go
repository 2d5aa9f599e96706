// Package sampler implements the Sensor Sampler background task (spec
// §4.3): each iteration acquires exclusive access to the shared ADC,
// reads the Control Pilot peak-to-peak voltage, the current-sense RMS,
// and the mains-peak voltage, then publishes the pilot (min,max) tuple
// (gated by a listen_to_pilot flag) and unconditionally appends the
// current/mains readings to the Sensors Store, before sleeping 200ms.
//
// Grounded on services/hal/worker.go's ticker/timer-driven task shape and
// original_source/juicelib/src/adc.rs's peak_to_peak/rms_voltage/
// peak_to_peak_pilot sampling-window functions, which this package
// reimplements against the hal.ADC interface instead of rppal::spi::Spi.
package sampler

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/hal"
	"github.com/dkronst/juiced-go/internal/sensorsstore"
	"github.com/dkronst/juiced-go/internal/signal"
)

// PilotReading is one (min,max) Control-Pilot voltage tuple, sampled over
// one pilot window.
type PilotReading struct {
	Min, Max float64
}

// ADCFacade is the subset of the Hardware Facade the sampler depends on:
// exclusive, serialised access to the shared sensor ADC.
type ADCFacade interface {
	WithADC(fn func(hal.ADC) error) error
}

// Sampler runs the background task and exposes its pilot-reading output
// queue.
type Sampler struct {
	facade ADCFacade
	store  *sensorsstore.Store
	cfg    config.Config
	log    zerolog.Logger

	listenToPilot atomic.Bool

	out chan PilotReading
}

// New builds a Sampler with the configured pilot-queue capacity.
func New(facade ADCFacade, store *sensorsstore.Store, cfg config.Config, log zerolog.Logger) *Sampler {
	return &Sampler{
		facade: facade,
		store:  store,
		cfg:    cfg,
		log:    log,
		out:    make(chan PilotReading, config.PilotQueueCapacity),
	}
}

// Readings returns the channel the state machine receives pilot (min,max)
// tuples from. Closed when Run returns.
func (s *Sampler) Readings() <-chan PilotReading { return s.out }

// SetListenToPilot gates whether pilot readings are published. The state
// machine suppresses pilot-driven transitions during sensitive sequences
// (self-test, deliberate standby settling) by clearing this flag, without
// racing the sampler itself (spec §4.3).
func (s *Sampler) SetListenToPilot(on bool) { s.listenToPilot.Store(on) }

// Run executes the sample/publish/sleep loop until ctx is cancelled or an
// ADC read fails. The output channel is always closed on return, so the
// main loop observes a closed channel either way (spec §4.3).
func (s *Sampler) Run(ctx context.Context) {
	defer close(s.out)

	for {
		if ctx.Err() != nil {
			return
		}

		var reading PilotReading
		var currentRMS, mainsPeak float64

		err := s.facade.WithADC(func(adc hal.ADC) error {
			var err error
			reading.Min, reading.Max, err = s.samplePilot(ctx, adc)
			if err != nil {
				return err
			}
			currentRMS, err = s.sampleCurrentRMS(ctx, adc)
			if err != nil {
				return err
			}
			mainsPeak, err = s.sampleMainsPeak(ctx, adc)
			return err
		})
		if err != nil {
			s.log.Error().Err(err).Msg("sensor sampler ADC read failed, exiting")
			return
		}

		now := time.Now()
		s.store.AddCurrentReading(currentRMS, now)
		s.store.AddMainsPeakReading(mainsPeak, now)

		if s.listenToPilot.Load() {
			select {
			case s.out <- reading:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.SamplerIdle):
		}
	}
}

// readCodes reads the given ADC channel repeatedly for the given window
// duration, returning every code observed. Always returns at least one
// sample.
func (s *Sampler) readCodes(ctx context.Context, adc hal.ADC, channel int, window time.Duration) ([]uint16, error) {
	deadline := time.Now().Add(window)
	var codes []uint16
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		code, err := adc.ReadChannel(ctx, channel)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		if time.Now().After(deadline) {
			return codes, nil
		}
	}
}

func (s *Sampler) samplePilot(ctx context.Context, adc hal.ADC) (min, max float64, err error) {
	codes, err := s.readCodes(ctx, adc, config.ADCChannelPilot, s.cfg.SamplerPilotWindow)
	if err != nil {
		return 0, 0, err
	}
	min, max = math.Inf(1), math.Inf(-1)
	for _, c := range codes {
		v := signal.VdivToPilot(signal.CodeToVolts(c, config.VRef))
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, nil
}

func (s *Sampler) sampleCurrentRMS(ctx context.Context, adc hal.ADC) (float64, error) {
	codes, err := s.readCodes(ctx, adc, config.ADCChannelCurrent, s.cfg.SamplerCurrentWindow)
	if err != nil {
		return 0, err
	}
	var sumSquares float64
	for _, c := range codes {
		amps := signal.CodeToAmps(c, config.VRef)
		sumSquares += amps * amps
	}
	return math.Sqrt(sumSquares / float64(len(codes))), nil
}

func (s *Sampler) sampleMainsPeak(ctx context.Context, adc hal.ADC) (float64, error) {
	codes, err := s.readCodes(ctx, adc, config.ADCChannelACVolts, s.cfg.SamplerMainsWindow)
	if err != nil {
		return 0, err
	}
	var peak float64
	for _, c := range codes {
		v := math.Abs(signal.CodeToVolts(c, config.VRef) - config.VRef/2)
		if v > peak {
			peak = v
		}
	}
	return peak, nil
}
