// Package irqsource abstracts where the SJA1000's interrupt line comes
// from: a real UIO-backed hardware interrupt, or a simulated one driven
// by a test. The controller only ever sees a Source, the same way the
// teacher's device models only ever see an InterruptRaiser and never
// know whether it is backed by a real PIC or a test double
// (devices/ne2000_constants.go, devices/serial.go).
package irqsource

import "context"

// EventKind distinguishes why Wait returned.
type EventKind int

const (
	// Interrupt means the chip's IRQ line fired and the driver should
	// read the interrupt status register and service it.
	Interrupt EventKind = iota
	// Terminate means the source was closed; the caller should stop
	// waiting and unwind.
	Terminate
)

// Event is a single occurrence delivered by a Source.
type Event struct {
	Kind EventKind
}

// Source delivers interrupt occurrences to the controller's service
// goroutine. It replaces the pulse channel a QNX resource manager would
// normally block on in a MsgReceive loop.
type Source interface {
	// Wait blocks until an interrupt occurs, the source is closed, or
	// ctx is canceled.
	Wait(ctx context.Context) (Event, error)
	// Close unblocks any pending Wait with a Terminate event and
	// releases underlying resources (an epoll fd, a UIO device file).
	Close() error
}
