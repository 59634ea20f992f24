// Package canbus defines the wire record shared by the driver and its
// clients: the CAN frame ABI and the per-client acceptance filter.
package canbus

import "fmt"

// Flag bits packed into the high byte of CanID, mirroring Linux SocketCAN's
// struct can_frame (and brutella/can's Frame, which samsamfire-gocanopen
// wraps the same way in socketcan.go).
const (
	EFF uint32 = 0x80000000 // extended 29-bit id
	RTR uint32 = 0x40000000 // remote transmission request
	ERR uint32 = 0x20000000 // error frame (driver -> client only)
	INV uint32 = 0x20000000 // inverse filter match (filter records only, same bit as ERR)

	EFFMask uint32 = 0x1FFFFFFF
	SFFMask uint32 = 0x000007FF
)

// Frame is the wire record for both driver->client reads and client->driver
// writes: exactly one frame per I/O operation.
type Frame struct {
	CanID uint32
	Len   uint8
	_     [3]byte // pad to a 4-byte aligned Data, fixed per-ABI
	Data  [8]byte
}

// ID returns the arbitration id with the flag bits masked off, honoring
// the frame's own EFF/SFF range.
func (f Frame) ID() uint32 {
	if f.CanID&EFF != 0 {
		return f.CanID & EFFMask
	}
	return f.CanID & SFFMask
}

func (f Frame) IsExtended() bool { return f.CanID&EFF != 0 }
func (f Frame) IsRemote() bool   { return f.CanID&RTR != 0 }
func (f Frame) IsError() bool    { return f.CanID&ERR != 0 }

func (f Frame) String() string {
	idWidth := 3
	if f.IsExtended() {
		idWidth = 8
	}
	if f.IsRemote() {
		return fmt.Sprintf("%0*X#R%d", idWidth, f.ID(), f.Len)
	}
	return fmt.Sprintf("%0*X#%X", idWidth, f.ID(), f.Data[:f.Len])
}

// FilterMode selects how a Filter's two fields are interpreted.
type FilterMode uint32

const (
	FilterDisabled  FilterMode = 0 // pass all
	FilterMaskMatch FilterMode = 1 // accept id&mask == pattern&mask (or its complement if INV set)
	FilterRange     FilterMode = 2 // accept lo <= id <= hi
)

// Filter is the per-client (or per-interface) acceptance filter. Exactly
// one is active per client at a time.
type Filter struct {
	Mode  FilterMode
	First uint32 // mask (MaskMatch) or lo (Range)
	Second uint32 // pattern (MaskMatch) or hi (Range)
}

// DisabledFilter passes everything, the default for a freshly opened client.
func DisabledFilter() Filter { return Filter{Mode: FilterDisabled} }

// Accepts reports whether frame passes filter, per spec.md §3/§8 invariant 4.
func (filt Filter) Accepts(frame Frame) bool {
	switch filt.Mode {
	case FilterDisabled:
		return true
	case FilterMaskMatch:
		arb := frame.CanID & EFFMask
		pattern := filt.Second &^ INV
		matches := (arb & filt.First) == (pattern & filt.First)
		if filt.Second&INV != 0 {
			return !matches
		}
		return matches
	case FilterRange:
		arb := frame.CanID & EFFMask
		return arb >= filt.First && arb <= filt.Second
	default:
		return true
	}
}
