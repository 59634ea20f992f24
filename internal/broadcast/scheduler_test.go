package broadcast_test

import (
	"testing"

	"github.com/vdatab/canrm/internal/broadcast"
	"github.com/vdatab/canrm/internal/canbus"
)

func TestRingRegisterReplyDeliversOnNextMatchingPush(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	client := broadcast.NewClient()
	ring.Open(client, false)

	var delivered canbus.Frame
	got := false
	ring.RegisterReply(client, func(f canbus.Frame) {
		delivered = f
		got = true
	}, func() { t.Fatal("cancel should not fire") })

	ring.Push(canbus.Frame{CanID: 0x123})

	if !got {
		t.Fatal("expected the registered reply to fire")
	}
	if delivered.CanID != 0x123 {
		t.Fatalf("delivered = %+v, want CanID 0x123", delivered)
	}

	// The request is one-shot: a second push must not re-deliver.
	got = false
	ring.Push(canbus.Frame{CanID: 0x456})
	if got {
		t.Fatal("expected the reply request to be consumed after first delivery")
	}
}

func TestRingRegisterReplySkipsNonMatchingThenDelivers(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	client := broadcast.NewClient()
	ring.Open(client, false)
	ring.SetFilter(client, canbus.Filter{Mode: canbus.FilterMaskMatch, First: canbus.SFFMask, Second: 0x200})

	delivered := make(chan canbus.Frame, 1)
	ring.RegisterReply(client, func(f canbus.Frame) { delivered <- f }, nil)

	ring.Push(canbus.Frame{CanID: 0x100}) // filtered out, request stays registered
	select {
	case f := <-delivered:
		t.Fatalf("unexpected delivery of non-matching frame %+v", f)
	default:
	}

	ring.Push(canbus.Frame{CanID: 0x200})
	select {
	case f := <-delivered:
		if f.CanID != 0x200 {
			t.Fatalf("delivered CanID = %#x, want 0x200", f.CanID)
		}
	default:
		t.Fatal("expected delivery once a matching frame arrived")
	}
}

func TestRingRegisterNotifyFiresOnMatchingPushWithoutConsuming(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	client := broadcast.NewClient()
	ring.Open(client, false)

	fired := make(chan struct{}, 1)
	ring.RegisterNotify(client, func() { fired <- struct{}{} }, func() { t.Fatal("cancel should not fire") })

	ring.Push(canbus.Frame{CanID: 0x300})

	select {
	case <-fired:
	default:
		t.Fatal("expected the registered notify to fire")
	}

	// Unlike RegisterReply, a notify is a peek: the client's read cursor
	// must not have been consumed, so the frame is still readable.
	if ring.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d, want 0 after notify fires", ring.PendingCount())
	}
	frame, ok := ring.TryRead(client)
	if !ok || frame.CanID != 0x300 {
		t.Fatalf("TryRead after notify = (%+v, %v), want (0x300, true)", frame, ok)
	}
}

func TestRingCancelClientFiresCancelCallback(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	client := broadcast.NewClient()
	ring.Open(client, false)

	canceled := false
	ring.RegisterReply(client, func(canbus.Frame) { t.Fatal("deliver should not fire") }, func() {
		canceled = true
	})

	ring.CancelClient(client)

	if !canceled {
		t.Fatal("expected cancel callback to fire on CancelClient")
	}

	// Pushing afterward must not panic or redeliver to the removed request.
	ring.Push(canbus.Frame{CanID: 0x1})
}
