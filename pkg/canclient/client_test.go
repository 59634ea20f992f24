package canclient_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vdatab/canrm/internal/broadcast"
	"github.com/vdatab/canrm/internal/canbus"
	"github.com/vdatab/canrm/internal/devnode"
	"github.com/vdatab/canrm/pkg/canclient"
)

type fakeWriter struct {
	written []canbus.Frame
}

func (w *fakeWriter) WriteMessage(f canbus.Frame) error {
	w.written = append(w.written, f)
	return nil
}

func startTestServer(t *testing.T) (string, *broadcast.Ring, *fakeWriter) {
	t.Helper()
	ring, err := broadcast.NewRing(4)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	writer := &fakeWriter{}
	path := filepath.Join(t.TempDir(), "can0")
	srv := devnode.NewServer(path, ring, writer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	go func() {
		close(ready)
		srv.Serve(ctx)
	}()
	t.Cleanup(cancel)
	<-ready
	time.Sleep(20 * time.Millisecond) // let the listener actually bind
	return path, ring, writer
}

func TestClientWriteThenServerSees(t *testing.T) {
	path, _, writer := startTestServer(t)

	client, err := canclient.Open(path, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	if err := client.Write(canbus.Frame{CanID: 0x222, Len: 2, Data: [8]byte{1, 2}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(writer.written) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(writer.written) != 1 || writer.written[0].CanID != 0x222 {
		t.Fatalf("writer.written = %+v", writer.written)
	}
}

func TestClientReadBacklogAppendSkipsIt(t *testing.T) {
	path, ring, _ := startTestServer(t)
	ring.Push(canbus.Frame{CanID: 0x10})

	client, err := canclient.Open(path, true) // append: should not see the backlog
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	if _, ok, err := client.TryRead(); err != nil || ok {
		t.Fatalf("TryRead = ok=%v err=%v, want ok=false", ok, err)
	}

	ring.Push(canbus.Frame{CanID: 0x20})
	frame, ok, err := client.TryRead()
	if err != nil || !ok {
		t.Fatalf("TryRead = ok=%v err=%v, want ok=true", ok, err)
	}
	if frame.CanID != 0x20 {
		t.Fatalf("CanID = %#x, want 0x20", frame.CanID)
	}
}

func TestClientTryPollReportsReadinessWithoutConsuming(t *testing.T) {
	path, ring, _ := startTestServer(t)

	client, err := canclient.Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	if ready, err := client.TryPoll(); err != nil || ready {
		t.Fatalf("TryPoll = ready=%v err=%v, want ready=false", ready, err)
	}

	ring.Push(canbus.Frame{CanID: 0x55})

	if ready, err := client.TryPoll(); err != nil || !ready {
		t.Fatalf("TryPoll = ready=%v err=%v, want ready=true", ready, err)
	}

	frame, ok, err := client.TryRead()
	if err != nil || !ok || frame.CanID != 0x55 {
		t.Fatalf("TryRead after TryPoll = frame=%+v ok=%v err=%v, want CanID 0x55", frame, ok, err)
	}
}

func TestClientPollBlocksUntilPush(t *testing.T) {
	path, ring, _ := startTestServer(t)

	client, err := canclient.Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- client.Poll() }()

	time.Sleep(20 * time.Millisecond) // let the poll register as pending
	ring.Push(canbus.Frame{CanID: 0x66})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Poll to wake")
	}
}

func TestClientSetFilter(t *testing.T) {
	path, ring, _ := startTestServer(t)

	client, err := canclient.Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer client.Close()

	filt := canbus.Filter{Mode: canbus.FilterMaskMatch, First: canbus.SFFMask, Second: 0x77}
	if err := client.SetFilter(filt); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}

	ring.Push(canbus.Frame{CanID: 0x88})
	ring.Push(canbus.Frame{CanID: 0x77})

	frame, ok, err := client.TryRead()
	if err != nil || !ok {
		t.Fatalf("TryRead = ok=%v err=%v", ok, err)
	}
	if frame.CanID != 0x77 {
		t.Fatalf("CanID = %#x, want 0x77", frame.CanID)
	}
}
