package irqsource_test

import (
	"context"
	"testing"
	"time"

	"github.com/vdatab/canrm/internal/irqsource"
)

func TestSimulatedRaiseDeliversInterrupt(t *testing.T) {
	src := irqsource.NewSimulated()
	defer src.Close()

	src.Raise()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := src.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ev.Kind != irqsource.Interrupt {
		t.Fatalf("Kind = %v, want Interrupt", ev.Kind)
	}
}

func TestSimulatedCloseUnblocksWait(t *testing.T) {
	src := irqsource.NewSimulated()
	done := make(chan irqsource.Event, 1)
	go func() {
		ev, _ := src.Wait(context.Background())
		done <- ev
	}()
	time.Sleep(10 * time.Millisecond)
	src.Close()

	select {
	case ev := <-done:
		if ev.Kind != irqsource.Terminate {
			t.Fatalf("Kind = %v, want Terminate", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Close")
	}
}

func TestSimulatedRaiseCoalesces(t *testing.T) {
	src := irqsource.NewSimulated()
	defer src.Close()

	src.Raise()
	src.Raise()
	src.Raise()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := src.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := src.Wait(ctx2); err == nil {
		t.Fatal("expected no second pulse to be queued")
	}
}
