package faultlistener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkronst/juiced-go/internal/hal"
)

type fakeFacade struct {
	edges     chan bool
	err       error
	commanded bool
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{edges: make(chan bool, 4)}
}

func (f *fakeFacade) WaitGFIStatusEdge(ctx context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	select {
	case v := <-f.edges:
		return v, nil
	case <-ctx.Done():
		return false, nil
	}
}

func (f *fakeFacade) ContactorCommanded() bool { return f.commanded }

func TestListener_PublishesFaultWhenContactorOn(t *testing.T) {
	fake := newFakeFacade()
	fake.commanded = true
	l := New(fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fake.edges <- true

	select {
	case f := <-l.Faults():
		if f != hal.GFIInterrupted {
			t.Fatalf("got fault %v, want GFIInterrupted", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fault")
	}
}

func TestListener_IgnoresEdgeWhenContactorOff(t *testing.T) {
	fake := newFakeFacade()
	fake.commanded = false
	l := New(fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fake.edges <- true
	// Give the listener a moment to (not) publish, confirm nothing was
	// queued, then push a second edge with the contactor now on.
	time.Sleep(20 * time.Millisecond)
	select {
	case f := <-l.Faults():
		t.Fatalf("got fault %v for an edge with the contactor off, want none", f)
	default:
	}
	fake.commanded = true
	fake.edges <- true

	select {
	case f := <-l.Faults():
		if f != hal.GFIInterrupted {
			t.Fatalf("got fault %v, want GFIInterrupted", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second edge's fault")
	}
}

func TestListener_ExitsOnCtxCancel(t *testing.T) {
	fake := newFakeFacade()
	l := New(fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after ctx cancel")
	}
	if _, ok := <-l.Faults(); ok {
		t.Fatal("Faults channel should be closed")
	}
}

func TestListener_PublishesInternalFaultOnError(t *testing.T) {
	fake := newFakeFacade()
	fake.err = errors.New("boom")
	l := New(fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case f := <-l.Faults():
		if f != hal.InternalFaultThreadError {
			t.Fatalf("got fault %v, want InternalFaultThreadError", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for internal fault")
	}
}
