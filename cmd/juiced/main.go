// Command juiced is the EVSE control core process: it wires the
// Hardware Facade to either a real periph.io/sysfs backend or the
// in-memory simulator, starts the Sensor Sampler, Fault Listener and
// EVSE State Machine as concurrent tasks, and fans state/fault/sensor
// events out onto a diagnostics bus that a logging subscriber drains.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/eventbus"
	"github.com/dkronst/juiced-go/internal/evse"
	"github.com/dkronst/juiced-go/internal/faultlistener"
	"github.com/dkronst/juiced-go/internal/hal"
	"github.com/dkronst/juiced-go/internal/hal/periphhw"
	"github.com/dkronst/juiced-go/internal/hal/simhw"
	"github.com/dkronst/juiced-go/internal/logging"
	"github.com/dkronst/juiced-go/internal/sampler"
	"github.com/dkronst/juiced-go/internal/sensorsstore"
)

func main() {
	sim := flag.Bool("sim", false, "run against the in-memory hardware simulator instead of real GPIO/PWM/SPI")
	level := flag.String("log-level", "info", "trace|debug|info|warn|error")
	console := flag.Bool("log-console", true, "human-readable console log output instead of JSON")
	flag.Parse()

	log := logging.New(*level, *console)
	cfg := config.Default()

	backend, closeBackend, err := openBackend(*sim)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open hardware backend")
	}
	if closeBackend != nil {
		defer func() {
			if err := closeBackend(); err != nil {
				log.Error().Err(err).Msg("error closing hardware backend")
			}
		}()
	}

	facade := hal.NewFacade(backend, cfg, logging.Component(log, "hal"))
	store := sensorsstore.Default()
	samp := sampler.New(facade, store, cfg, logging.Component(log, "sampler"))
	listener := faultlistener.New(facade, logging.Component(log, "faultlistener"))

	bus := eventbus.NewBus(16)
	pubConn := bus.NewConnection("core")
	startDiagnosticsLogger(bus.NewConnection("diagnostics"), logging.Component(log, "diagnostics"))

	pilotCh := make(chan evse.PilotReading, config.PilotQueueCapacity)
	faultCh := make(chan hal.Fault, config.FaultQueueCapacity)
	machine := evse.New(facade, samp, cfg, logging.Component(log, "evse"), pilotCh, faultCh)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { samp.Run(gctx); return nil })
	g.Go(func() error { listener.Run(gctx); return nil })
	g.Go(func() error { relayPilotReadings(gctx, samp, pilotCh); return nil })
	g.Go(func() error { relayFaults(gctx, listener, faultCh, pubConn); return nil })
	g.Go(func() error { publishSensorSnapshots(gctx, store, cfg, pubConn); return nil })
	g.Go(func() error { publishStateChanges(gctx, machine, pubConn); return nil })
	g.Go(func() error {
		machine.Run(gctx)
		if machine.State() == evse.FailedStation {
			return errors.New("state machine halted in FailedStation")
		}
		return nil
	})

	log.Info().Bool("sim", *sim).Msg("control core running")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("control core exited with error")
		os.Exit(1)
	}
}

// openBackend builds the hal.Backend the Facade drives: the real
// periph.io/sysfs backend by default, or the in-memory simulator under
// -sim for development and demoing off real hardware.
func openBackend(sim bool) (hal.Backend, func() error, error) {
	if sim {
		return simhw.NewBackend(), nil, nil
	}
	return periphhw.Open()
}

// relayPilotReadings adapts the Sensor Sampler's own PilotReading shape
// onto the state machine's local copy (internal/evse/machine.go avoids
// importing internal/sampler just for one struct shape).
func relayPilotReadings(ctx context.Context, samp *sampler.Sampler, out chan<- evse.PilotReading) {
	defer close(out)
	in := samp.Readings()
	for {
		select {
		case <-ctx.Done():
			return
		case r, open := <-in:
			if !open {
				return
			}
			select {
			case out <- evse.PilotReading{Min: r.Min, Max: r.Max}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// relayFaults forwards every Fault Listener event to the state machine's
// own fault queue and mirrors it (non-retained — faults are momentary
// events, not current status, spec's eventbus design) onto the
// diagnostics bus.
func relayFaults(ctx context.Context, listener *faultlistener.Listener, out chan<- hal.Fault, pub *eventbus.Connection) {
	defer close(out)
	in := listener.Faults()
	for {
		select {
		case <-ctx.Done():
			return
		case f, open := <-in:
			if !open {
				return
			}
			pub.Publish(eventbus.TopicFault, f.String(), false)
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

// publishSensorSnapshots periodically republishes the Sensors Store's
// rolling averages onto the diagnostics bus, retained so a subscriber
// that attaches mid-run immediately sees the latest figures.
func publishSensorSnapshots(ctx context.Context, store *sensorsstore.Store, cfg config.Config, pub *eventbus.Connection) {
	ticker := time.NewTicker(cfg.SamplerIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pub.Publish(eventbus.TopicSensorsCurrent, store.CurrentAverage(), true)
			pub.Publish(eventbus.TopicSensorsMains, store.MainsPeakAverage(), true)
		}
	}
}

// publishStateChanges polls the state machine's reported state and
// republishes it (retained) whenever it changes. Polling rather than an
// in-machine publish call keeps evse.Machine free of any dependency on
// the diagnostics bus; the cost is a poll interval's worth of latency,
// acceptable for diagnostics.
func publishStateChanges(ctx context.Context, machine *evse.Machine, pub *eventbus.Connection) {
	const pollEvery = 20 * time.Millisecond
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	last := machine.State()
	pub.Publish(eventbus.TopicState, last.String(), true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cur := machine.State(); cur != last {
				last = cur
				pub.Publish(eventbus.TopicState, last.String(), true)
			}
		}
	}
}

// startDiagnosticsLogger subscribes to each of the four topics this core
// publishes and logs every event at debug level; it is the bus's sole
// consumer in this process, standing in for an external diagnostics tool
// that would otherwise attach here.
func startDiagnosticsLogger(conn *eventbus.Connection, log zerolog.Logger) {
	topics := []eventbus.Topic{
		eventbus.TopicState,
		eventbus.TopicFault,
		eventbus.TopicSensorsCurrent,
		eventbus.TopicSensorsMains,
	}
	for _, topic := range topics {
		sub := conn.Subscribe(topic)
		go func(sub *eventbus.Subscription) {
			for msg := range sub.Channel() {
				log.Debug().Strs("topic", msg.Topic).Interface("payload", msg.Payload).Msg("diagnostics event")
			}
		}(sub)
	}
}
