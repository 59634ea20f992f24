package broadcast

import (
	"context"
	"errors"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/vdatab/canrm/internal/canbus"
)

// Reader is the subset of sja1000.Controller the feeder depends on, kept
// narrow so tests can drive a Ring without a real controller.
type Reader interface {
	ReadMessage(ctx context.Context) (canbus.Frame, error)
}

// Feeder pulls frames off a Reader and pushes them into a Ring, one
// goroutine per controller. Grounded on CanManager::DataReceiveThread,
// which runs at elevated pthread priority
// (pthread_setschedprio(pthread_self(), 30)) so inbound frames are
// drained promptly; here that's runtime.LockOSThread plus
// golang.org/x/sys/unix.Setpriority on the pinned thread, the same
// syscall package the teacher uses for privileged operations in
// hypervisor/kvm.go.
type Feeder struct {
	reader Reader
	ring   *Ring
	log    *logrus.Entry
}

// NewFeeder builds a Feeder; call Run in its own goroutine.
func NewFeeder(reader Reader, ring *Ring, log *logrus.Entry) *Feeder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Feeder{reader: reader, ring: ring, log: log}
}

// Run blocks, feeding frames into the ring until ctx is canceled or the
// reader reports an error (the controller closed).
func (f *Feeder) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
		f.log.WithError(err).Debug("could not raise receive thread priority")
	}

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			f.log.WithError(err).Warn("receive thread stopping")
			return
		}
		f.ring.Push(frame)
	}
}
