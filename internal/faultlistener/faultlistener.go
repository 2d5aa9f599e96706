// Package faultlistener implements the Fault Listener background task
// (spec §4.4): it waits on the GFI-status rising edge, decides whether
// the edge represents a real ground fault or a self-test artifact by
// checking the commanded contactor state, and publishes Fault events on a
// bounded queue for the EVSE State Machine to consume.
//
// Grounded on services/hal/gpio_worker.go's ISR-to-channel pattern: there,
// an ISR handler does the minimum possible work and forwards to a
// goroutine over a non-blocking channel send with a drop counter on
// overflow; here the same shape is used, except the "ISR" is a blocking
// WaitForEdge call run in a dedicated goroutine (periph.io/seedhammer
// style) rather than a true hardware-interrupt callback.
package faultlistener

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/internal/config"
	"github.com/dkronst/juiced-go/internal/hal"
)

// EdgeWaiter is the subset of the Hardware Facade the listener depends on.
type EdgeWaiter interface {
	WaitGFIStatusEdge(ctx context.Context) (bool, error)
	ContactorCommanded() bool
}

// Listener runs the background task and exposes its output queue.
type Listener struct {
	facade EdgeWaiter
	log    zerolog.Logger

	out   chan hal.Fault
	drops uint32
}

// New builds a Listener with the configured queue capacity.
func New(facade EdgeWaiter, log zerolog.Logger) *Listener {
	return &Listener{
		facade: facade,
		log:    log,
		out:    make(chan hal.Fault, config.FaultQueueCapacity),
	}
}

// Faults returns the channel the state machine receives from. It is
// closed when Run returns, whatever the reason.
func (l *Listener) Faults() <-chan hal.Fault { return l.out }

// Drops reports how many fault events were discarded because the output
// queue was full. In practice this should stay at zero — faults are rare
// per spec §5 — but it is exposed for diagnostics.
func (l *Listener) Drops() uint32 { return atomic.LoadUint32(&l.drops) }

// Run blocks, waiting on GFI-status edges and publishing faults, until ctx
// is cancelled or an unrecoverable internal error occurs. On an internal
// error it publishes InternalFaultThreadError once (best-effort) before
// returning. The output channel is always closed on return, mirroring the
// Sensor Sampler's documented behaviour of exiting so the main loop
// observes a closed channel (spec §4.3/§4.4).
func (l *Listener) Run(ctx context.Context) {
	defer close(l.out)

	for {
		edged, err := l.facade.WaitGFIStatusEdge(ctx)
		if err != nil {
			l.log.Error().Err(err).Msg("GFI status edge wait failed, fault listener exiting")
			l.publish(hal.InternalFaultThreadError)
			return
		}
		if !edged {
			// ctx cancelled.
			return
		}

		if l.facade.ContactorCommanded() {
			l.log.Warn().Msg("GFI status rising edge observed with contactor commanded on")
			l.publish(hal.GFIInterrupted)
		} else {
			l.log.Debug().Msg("GFI status rising edge observed with contactor off, ignoring (self-test artifact)")
		}
	}
}

func (l *Listener) publish(f hal.Fault) {
	select {
	case l.out <- f:
	default:
		atomic.AddUint32(&l.drops, 1)
		l.log.Warn().Str("fault", f.String()).Msg("fault queue full, dropping event")
	}
}
