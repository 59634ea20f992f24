package register

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MemoryMapped is an Accessor backed by a memory-mapped register window:
// a virtual base address plus a per-register shift (0-8). Register
// offset `n` lands at `base + (n << shift)`. Grounded on
// ChipMapperMemory::PutByte/GetByte (chip_mapper_memory.cpp), adapted to
// mmap a POSIX file (typically /dev/mem or a UIO device) instead of QNX's
// mmap_device_memory.
type MemoryMapped struct {
	region []byte
	shift  uint8
}

// NewMemoryMapped maps `size` bytes of physical memory at `physAddr`
// through `fd` (opened by the caller, e.g. os.Open("/dev/mem") or a UIO
// device node) and returns an Accessor. shift must be 0-8, matching the
// original chip mapper's constraint.
func NewMemoryMapped(fd int, physAddr int64, size int, shift uint8) (*MemoryMapped, error) {
	if shift > 8 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid shift %d, must be 0-8", shift)}
	}
	region, err := unix.Mmap(fd, physAddr, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("register: mmap device memory: %w", err)
	}
	return &MemoryMapped{region: region, shift: shift}, nil
}

// NewMemoryMappedWindow wraps an already-mapped (or, in tests, plain
// heap-allocated) byte slice directly, skipping the mmap syscall. Used by
// the driver's unit tests to exercise the register layout without real
// hardware.
func NewMemoryMappedWindow(window []byte, shift uint8) (*MemoryMapped, error) {
	if shift > 8 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid shift %d, must be 0-8", shift)}
	}
	return &MemoryMapped{region: window, shift: shift}, nil
}

func (m *MemoryMapped) addr(offset uint32) uint64 {
	return uint64(offset) << m.shift
}

func (m *MemoryMapped) GetByte(offset uint32) uint8 {
	ptr := (*uint8)(unsafe.Pointer(&m.region[m.addr(offset)]))
	return atomic.LoadUint8(ptr)
}

func (m *MemoryMapped) PutByte(offset uint32, value uint8) {
	ptr := (*uint8)(unsafe.Pointer(&m.region[m.addr(offset)]))
	atomic.StoreUint8(ptr, value)
}

func (m *MemoryMapped) GetWord(offset uint32) uint16 {
	a := m.addr(offset)
	ptr := (*uint16)(unsafe.Pointer(&m.region[a]))
	return atomic.LoadUint16(ptr)
}

func (m *MemoryMapped) PutWord(offset uint32, value uint16) {
	a := m.addr(offset)
	ptr := (*uint16)(unsafe.Pointer(&m.region[a]))
	atomic.StoreUint16(ptr, value)
}

func (m *MemoryMapped) Close() error {
	if m.region == nil {
		return nil
	}
	err := unix.Munmap(m.region)
	m.region = nil
	return err
}
