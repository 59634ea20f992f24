//go:build linux

package register

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PortIO is an Accessor backed by legacy x86 I/O ports, addressed through
// /dev/port rather than inline in/out instructions (Go has no portable
// equivalent of the original's <hw/inout.h> intrinsics without cgo).
// Grounded on ChipMapperIO::GetByte/PutByte (chip_mapper_io.cpp), which
// mmap_device_io's a fixed-size port window and offsets into it.
type PortIO struct {
	fd       int
	baseAddr uint64
	shift    uint8
}

// NewPortIO opens /dev/port and anchors future accesses at baseAddr,
// scaling register offsets by shift exactly as ChipMapperIO does.
func NewPortIO(baseAddr uint64, shift uint8) (*PortIO, error) {
	if shift > 8 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid shift %d, must be 0-8", shift)}
	}
	fd, err := unix.Open("/dev/port", unix.O_RDWR, 0)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("open /dev/port: %s (requires root and a CONFIG_STRICT_DEVMEM=n kernel)", err)}
	}
	return &PortIO{fd: fd, baseAddr: baseAddr, shift: shift}, nil
}

func (p *PortIO) addr(offset uint32) int64 {
	return int64(p.baseAddr + (uint64(offset) << p.shift))
}

func (p *PortIO) GetByte(offset uint32) uint8 {
	var buf [1]byte
	if _, err := unix.Pread(p.fd, buf[:], p.addr(offset)); err != nil {
		return 0xFF
	}
	return buf[0]
}

func (p *PortIO) PutByte(offset uint32, value uint8) {
	buf := [1]byte{value}
	_, _ = unix.Pwrite(p.fd, buf[:], p.addr(offset))
}

func (p *PortIO) GetWord(offset uint32) uint16 {
	var buf [2]byte
	if _, err := unix.Pread(p.fd, buf[:], p.addr(offset)); err != nil {
		return 0xFFFF
	}
	return uint16(buf[0]) | uint16(buf[1])<<8
}

func (p *PortIO) PutWord(offset uint32, value uint16) {
	buf := [2]byte{byte(value), byte(value >> 8)}
	_, _ = unix.Pwrite(p.fd, buf[:], p.addr(offset))
}

func (p *PortIO) Close() error {
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}
