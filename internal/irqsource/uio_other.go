//go:build !linux

package irqsource

import (
	"context"
	"fmt"
)

// UIO is unavailable outside Linux; the UIO subsystem is Linux-specific.
type UIO struct{}

func OpenUIO(deviceIndex int) (*UIO, error) {
	return nil, fmt.Errorf("irqsource: UIO interrupt sources are not supported on this platform")
}

func (u *UIO) Wait(ctx context.Context) (Event, error) { return Event{}, context.Canceled }
func (u *UIO) Rearm() error                            { return nil }
func (u *UIO) Close() error                            { return nil }
