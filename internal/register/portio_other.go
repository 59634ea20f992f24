//go:build !linux

package register

import "fmt"

// PortIO is unavailable outside Linux; /dev/port has no analogue on other
// platforms this driver targets.
type PortIO struct{}

func NewPortIO(baseAddr uint64, shift uint8) (*PortIO, error) {
	return nil, &ConfigurationError{Reason: fmt.Sprintf("port I/O register access is not supported on this platform")}
}

func (p *PortIO) GetByte(offset uint32) uint8          { return 0xFF }
func (p *PortIO) PutByte(offset uint32, value uint8)   {}
func (p *PortIO) GetWord(offset uint32) uint16         { return 0xFFFF }
func (p *PortIO) PutWord(offset uint32, value uint16)  {}
func (p *PortIO) Close() error                         { return nil }
