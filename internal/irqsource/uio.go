//go:build linux

package irqsource

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// UIO is a Source backed by a Linux userspace-io device (/dev/uioN). A
// read from the device blocks until the kernel UIO driver's interrupt
// handler runs and posts a 4-byte interrupt counter; this mirrors the
// teacher's use of golang.org/x/sys/unix for privileged device access in
// hypervisor/kvm.go, adapted here from KVM ioctls to epoll on a UIO fd.
type UIO struct {
	fd      int
	epollFd int
	closed  chan struct{}
}

// OpenUIO opens the numbered UIO device (e.g. 0 for /dev/uio0) and wires
// up an epoll instance to wait on it without blocking the calling
// goroutine's thread indefinitely.
func OpenUIO(deviceIndex int) (*UIO, error) {
	path := fmt.Sprintf("/dev/uio%d", deviceIndex)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("irqsource: open %s: %w", path, err)
	}
	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("irqsource: epoll_create1: %w", err)
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(epollFd)
		unix.Close(fd)
		return nil, fmt.Errorf("irqsource: epoll_ctl: %w", err)
	}
	return &UIO{fd: fd, epollFd: epollFd, closed: make(chan struct{})}, nil
}

func (u *UIO) Wait(ctx context.Context) (Event, error) {
	events := make([]unix.EpollEvent, 1)
	for {
		select {
		case <-u.closed:
			return Event{Kind: Terminate}, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		n, err := unix.EpollWait(u.epollFd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return Event{}, fmt.Errorf("irqsource: epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}
		var counter [4]byte
		if _, err := unix.Read(u.fd, counter[:]); err != nil {
			return Event{}, fmt.Errorf("irqsource: read uio counter: %w", err)
		}
		_ = binary.LittleEndian.Uint32(counter[:])
		return Event{Kind: Interrupt}, nil
	}
}

// Rearm tells the UIO driver the interrupt has been serviced and it may
// unmask the device's IRQ line again.
func (u *UIO) Rearm() error {
	var enable [4]byte
	binary.LittleEndian.PutUint32(enable[:], 1)
	_, err := unix.Write(u.fd, enable[:])
	return err
}

func (u *UIO) Close() error {
	select {
	case <-u.closed:
	default:
		close(u.closed)
	}
	unix.EpollCtl(u.epollFd, unix.EPOLL_CTL_DEL, u.fd, nil)
	err1 := unix.Close(u.epollFd)
	err2 := unix.Close(u.fd)
	if err1 != nil {
		return err1
	}
	return err2
}
