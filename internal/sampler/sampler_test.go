package sampler

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/hal"
	"github.com/dkronst/juiced-go/internal/hal/simhw"
	"github.com/dkronst/juiced-go/internal/sensorsstore"
)

type directADCFacade struct {
	mu  sync.Mutex
	adc hal.ADC
}

func (f *directADCFacade) WithADC(fn func(hal.ADC) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f.adc)
}

func testConfig() config.Config {
	c := config.Default()
	c.SamplerIdle = time.Millisecond
	c.SamplerPilotWindow = 2 * time.Millisecond
	c.SamplerCurrentWindow = time.Millisecond
	c.SamplerMainsWindow = time.Millisecond
	return c
}

func TestSampler_PublishesPilotReadingWhenListening(t *testing.T) {
	adc := simhw.NewADC()
	adc.SetChannel(config.ADCChannelPilot, 200) // some code producing a valid volts reading
	adc.SetChannel(config.ADCChannelCurrent, 512)
	adc.SetChannel(config.ADCChannelACVolts, 512)

	store := sensorsstore.New(10)
	s := New(&directADCFacade{adc: adc}, store, testConfig(), zerolog.Nop())
	s.SetListenToPilot(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case r := <-s.Readings():
		if r.Min != r.Max {
			t.Fatalf("expected constant ADC code to give Min==Max, got %v/%v", r.Min, r.Max)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a pilot reading")
	}
}

func TestSampler_SuppressesPilotWhenNotListening(t *testing.T) {
	adc := simhw.NewADC()
	store := sensorsstore.New(10)
	s := New(&directADCFacade{adc: adc}, store, testConfig(), zerolog.Nop())
	// listenToPilot left false (default).

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case r := <-s.Readings():
		t.Fatalf("unexpected pilot reading %+v while not listening", r)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSampler_AppendsToSensorsStoreRegardlessOfListening(t *testing.T) {
	adc := simhw.NewADC()
	adc.SetChannel(config.ADCChannelCurrent, 512)
	adc.SetChannel(config.ADCChannelACVolts, 600)
	store := sensorsstore.New(10)
	s := New(&directADCFacade{adc: adc}, store, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	cancel()

	cLen, mLen := store.Len()
	if cLen == 0 || mLen == 0 {
		t.Fatalf("expected sensors store to have been appended to, got lens %d/%d", cLen, mLen)
	}
}

func TestSampler_ZeroAtMidScaleCurrent(t *testing.T) {
	adc := simhw.NewADC()
	adc.SetChannel(config.ADCChannelCurrent, 512) // mid-scale == 0A per the Hall-sensor model
	store := sensorsstore.New(10)
	s := New(&directADCFacade{adc: adc}, store, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	if got := store.CurrentAverage(); math.Abs(got) > 1e-6 {
		t.Fatalf("CurrentAverage() = %v, want ~0", got)
	}
}

func TestSampler_ClosesChannelOnCtxCancel(t *testing.T) {
	adc := simhw.NewADC()
	store := sensorsstore.New(10)
	s := New(&directADCFacade{adc: adc}, store, testConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after ctx cancel")
	}
}
