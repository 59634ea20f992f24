package irqsource

import (
	"context"
	"sync"
)

// Simulated is a channel-backed Source for tests and loopback operation,
// where nothing real raises the chip's IRQ line. Grounded on the
// stop/done channel pair the teacher uses to coordinate its NE2000 Rx
// goroutine (devices/ne2000.go's stopRxLoop/rxGoroutineDone).
type Simulated struct {
	mu     sync.Mutex
	pulses chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewSimulated returns a ready Source; call Raise to simulate an
// interrupt occurrence.
func NewSimulated() *Simulated {
	return &Simulated{
		pulses: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Raise enqueues one interrupt occurrence. Coalesces with any occurrence
// still pending delivery, matching how a real IRQ line staying asserted
// produces one wakeup until the status register is read.
func (s *Simulated) Raise() {
	select {
	case s.pulses <- struct{}{}:
	default:
	}
}

func (s *Simulated) Wait(ctx context.Context) (Event, error) {
	select {
	case <-s.pulses:
		return Event{Kind: Interrupt}, nil
	case <-s.closed:
		return Event{Kind: Terminate}, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (s *Simulated) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}
