package devnode

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/vdatab/canrm/internal/broadcast"
	"github.com/vdatab/canrm/internal/canbus"
)

type fakeWriter struct {
	written []canbus.Frame
}

func (w *fakeWriter) WriteMessage(f canbus.Frame) error {
	w.written = append(w.written, f)
	return nil
}

func newTestConn(t *testing.T, ring *broadcast.Ring, writer Writer) (net.Conn, context.CancelFunc) {
	t.Helper()
	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{nc: server, ring: ring, writer: writer}
	go c.serve(ctx)
	t.Cleanup(func() { client.Close() })
	return client, cancel
}

func mustOpen(t *testing.T, nc net.Conn, flags OpenFlags) {
	t.Helper()
	if _, err := nc.Write([]byte{byte(flags)}); err != nil {
		t.Fatalf("write open flags: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read open status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("open status = %d, want StatusOK", status)
	}
}

func TestProtocolReadBacklog(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	ring.Push(canbus.Frame{CanID: 0x321})

	writer := &fakeWriter{}
	nc, cancel := newTestConn(t, ring, writer)
	defer cancel()

	mustOpen(t, nc, 0)

	if _, err := nc.Write([]byte{byte(OpRead), 1}); err != nil { // non-blocking read
		t.Fatalf("write OpRead: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	frame, err := readFrame(nc)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.CanID != 0x321 {
		t.Fatalf("CanID = %#x, want 0x321", frame.CanID)
	}
}

func TestProtocolNonBlockingReadWithNoDataReturnsNoData(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	nc, cancel := newTestConn(t, ring, nil)
	defer cancel()

	mustOpen(t, nc, FlagAppend)

	if _, err := nc.Write([]byte{byte(OpRead), 1}); err != nil {
		t.Fatalf("write OpRead: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusNoData {
		t.Fatalf("status = %d, want StatusNoData", status)
	}
}

func TestProtocolBlockingReadDeliversOnPush(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	nc, cancel := newTestConn(t, ring, nil)
	defer cancel()

	mustOpen(t, nc, FlagAppend)

	done := make(chan error, 1)
	go func() {
		if _, err := nc.Write([]byte{byte(OpRead), 0}); err != nil {
			done <- err
			return
		}
		status, err := readStatus(nc)
		if err != nil {
			done <- err
			return
		}
		if status != StatusOK {
			done <- errStatus(status)
			return
		}
		frame, err := readFrame(nc)
		if err != nil {
			done <- err
			return
		}
		if frame.CanID != 0x42 {
			done <- errBadID(frame.CanID)
			return
		}
		done <- nil
	}()

	time.Sleep(20 * time.Millisecond) // let the read register as pending
	ring.Push(canbus.Frame{CanID: 0x42})

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocking read to deliver")
	}
}

func TestProtocolWriteForwardsToController(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	writer := &fakeWriter{}
	nc, cancel := newTestConn(t, ring, writer)
	defer cancel()

	mustOpen(t, nc, 0)

	if _, err := nc.Write([]byte{byte(OpWrite)}); err != nil {
		t.Fatalf("write opcode: %v", err)
	}
	if err := writeFrame(nc, canbus.Frame{CanID: 0x111, Len: 1, Data: [8]byte{0xAB}}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	if len(writer.written) != 1 || writer.written[0].CanID != 0x111 {
		t.Fatalf("writer.written = %+v", writer.written)
	}
}

func TestProtocolDevctlSetFilter(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	nc, cancel := newTestConn(t, ring, nil)
	defer cancel()

	mustOpen(t, nc, FlagAppend)

	if _, err := nc.Write([]byte{byte(OpDevctl), byte(DevctlSetFilter)}); err != nil {
		t.Fatalf("write opcode: %v", err)
	}
	filt := canbus.Filter{Mode: canbus.FilterMaskMatch, First: canbus.SFFMask, Second: 0x555}
	if err := writeFilter(nc, filt); err != nil {
		t.Fatalf("write filter: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}

	ring.Push(canbus.Frame{CanID: 0x100})
	ring.Push(canbus.Frame{CanID: 0x555})

	if _, err := nc.Write([]byte{byte(OpRead), 1}); err != nil {
		t.Fatalf("write OpRead: %v", err)
	}
	status, err = readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	frame, err := readFrame(nc)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.CanID != 0x555 {
		t.Fatalf("CanID = %#x, want 0x555 (filter should skip 0x100)", frame.CanID)
	}
}

func TestProtocolPollNonBlockingWithNoDataReturnsNoData(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	nc, cancel := newTestConn(t, ring, nil)
	defer cancel()

	mustOpen(t, nc, FlagAppend)

	if _, err := nc.Write([]byte{byte(OpPoll), 1}); err != nil {
		t.Fatalf("write OpPoll: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusNoData {
		t.Fatalf("status = %d, want StatusNoData", status)
	}
}

func TestProtocolPollReportsAlreadyPendingWithoutConsuming(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	ring.Push(canbus.Frame{CanID: 0x321})

	nc, cancel := newTestConn(t, ring, nil)
	defer cancel()

	mustOpen(t, nc, 0)

	if _, err := nc.Write([]byte{byte(OpPoll), 1}); err != nil {
		t.Fatalf("write OpPoll: %v", err)
	}
	status, err := readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}

	// The poll must not have consumed the frame.
	if _, err := nc.Write([]byte{byte(OpRead), 1}); err != nil {
		t.Fatalf("write OpRead: %v", err)
	}
	status, err = readStatus(nc)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	frame, err := readFrame(nc)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.CanID != 0x321 {
		t.Fatalf("CanID = %#x, want 0x321", frame.CanID)
	}
}

func TestProtocolBlockingPollWakesOnPush(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	nc, cancel := newTestConn(t, ring, nil)
	defer cancel()

	mustOpen(t, nc, FlagAppend)

	done := make(chan error, 1)
	go func() {
		if _, err := nc.Write([]byte{byte(OpPoll), 0}); err != nil {
			done <- err
			return
		}
		status, err := readStatus(nc)
		if err != nil {
			done <- err
			return
		}
		if status != StatusOK {
			done <- errStatus(status)
			return
		}
		done <- nil
	}()

	time.Sleep(20 * time.Millisecond) // let the poll register as pending
	ring.Push(canbus.Frame{CanID: 0x42})

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocking poll to wake")
	}
}

func TestProtocolBlockingReadUnblocksOnClientDisconnect(t *testing.T) {
	ring, _ := broadcast.NewRing(4)
	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &conn{nc: server, ring: ring, writer: nil}
	go c.serve(ctx)

	mustOpen(t, client, FlagAppend)

	if _, err := client.Write([]byte{byte(OpRead), 0}); err != nil {
		t.Fatalf("write OpRead: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let the read register as pending
	if ring.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1 before disconnect", ring.PendingCount())
	}

	client.Close()

	deadline := time.After(2 * time.Second)
	for ring.PendingCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for parked read to be reaped after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type errStatus Status

func (e errStatus) Error() string { return "unexpected status" }

type errBadID uint32

func (e errBadID) Error() string { return "unexpected CanID" }
