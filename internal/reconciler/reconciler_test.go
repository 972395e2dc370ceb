package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"custodian/internal/reservation"
)

// fakeTarget counts passes and can fail.
type fakeTarget struct {
	passes atomic.Int64
	err    error
}

func (f *fakeTarget) Reconcile(ctx context.Context) (reservation.ReconcileReport, error) {
	f.passes.Add(1)
	return reservation.ReconcileReport{}, f.err
}

func TestReconciler_RunsInitialPassAndStops(t *testing.T) {
	target := &fakeTarget{}
	r := New(target, time.Hour) // interval long enough that only the initial pass runs

	done := make(chan error, 1)
	go func() {
		done <- r.Start(context.Background())
	}()

	// Wait for the initial pass
	deadline := time.After(2 * time.Second)
	for target.passes.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Initial reconcile pass never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}

	r.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reconciler did not stop")
	}

	if target.passes.Load() != 1 {
		t.Errorf("Expected exactly 1 pass, got %d", target.passes.Load())
	}
}

func TestReconciler_TicksOnInterval(t *testing.T) {
	target := &fakeTarget{err: errors.New("node unavailable")} // failures are not fatal
	r := New(target, 20*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- r.Start(context.Background())
	}()

	deadline := time.After(2 * time.Second)
	for target.passes.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 passes, got %d", target.passes.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	r.Stop()
	<-done
}
