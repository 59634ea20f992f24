// Package devnode exposes one sja1000.Controller (fanned out through a
// broadcast.Ring) over a device-node-shaped API, the operations the
// original resource manager handled (open/read/write/devctl, plus
// notify as a poll and an explicit close), framed over a Unix domain socket since Go
// has no resmgr_attach/OCB equivalent to register a real /dev entry
// without a custom kernel module. One connection is one OCB. Grounded
// on original_source/resmgr/src/can_manager.{h,cpp}'s
// io_open/io_read/io_write/io_notify/io_devctl/io_close_ocb/io_unblock.
package devnode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vdatab/canrm/internal/canbus"
)

// Opcode identifies a client request.
type Opcode uint8

const (
	OpOpen Opcode = iota
	OpRead
	OpWrite
	OpDevctl
	OpPoll
	OpClose
)

// OpenFlags mirrors the open(2) flags the original cared about:
// O_APPEND (start the read cursor at the current head rather than the
// oldest buffered frame) and O_NONBLOCK (never register a delayed
// reply; return immediately when nothing is queued).
type OpenFlags uint8

const (
	FlagAppend   OpenFlags = 1 << 0
	FlagNonBlock OpenFlags = 1 << 1
)

// Status is the first byte of every response.
type Status uint8

const (
	StatusOK Status = iota
	StatusNoData        // non-blocking read found nothing, EAGAIN-equivalent
	StatusErr            // Message carries a human-readable reason
	StatusClosed         // the device (or this OCB) is gone
)

// DevctlCommand selects the devctl operation. The original supported
// exactly one (EDCMD_SET_MASK); this is kept as a single command for
// the same reason.
type DevctlCommand uint8

const (
	DevctlSetFilter DevctlCommand = iota
)

const frameWireSize = 16 // CanID(4) + Len(1) + pad(3) + Data(8)

// writeFrame serializes a canbus.Frame in its on-disk ABI layout.
func writeFrame(w io.Writer, f canbus.Frame) error {
	var buf [frameWireSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], f.CanID)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	_, err := w.Write(buf[:])
	return err
}

// readFrame deserializes a canbus.Frame from its on-disk ABI layout.
func readFrame(r io.Reader) (canbus.Frame, error) {
	var buf [frameWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return canbus.Frame{}, err
	}
	var f canbus.Frame
	f.CanID = binary.LittleEndian.Uint32(buf[0:4])
	f.Len = buf[4]
	copy(f.Data[:], buf[8:16])
	return f, nil
}

const filterWireSize = 12 // Mode(4) + First(4) + Second(4)

func writeFilter(w io.Writer, filt canbus.Filter) error {
	var buf [filterWireSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(filt.Mode))
	binary.LittleEndian.PutUint32(buf[4:8], filt.First)
	binary.LittleEndian.PutUint32(buf[8:12], filt.Second)
	_, err := w.Write(buf[:])
	return err
}

func readFilter(r io.Reader) (canbus.Filter, error) {
	var buf [filterWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return canbus.Filter{}, err
	}
	return canbus.Filter{
		Mode:   canbus.FilterMode(binary.LittleEndian.Uint32(buf[0:4])),
		First:  binary.LittleEndian.Uint32(buf[4:8]),
		Second: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

func readOpcode(r io.Reader) (Opcode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Opcode(b[0]), nil
}

func writeStatus(w io.Writer, status Status) error {
	_, err := w.Write([]byte{byte(status)})
	return err
}

func readStatus(r io.Reader) (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Status(b[0]), nil
}

func writeErrorMessage(w io.Writer, msg string) error {
	if len(msg) > 255 {
		msg = msg[:255]
	}
	if _, err := w.Write([]byte{byte(len(msg))}); err != nil {
		return err
	}
	_, err := io.WriteString(w, msg)
	return err
}

func readErrorMessage(r io.Reader) (string, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	buf := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// wireError wraps a StatusErr response as a Go error.
type wireError struct {
	Reason string
}

func (e *wireError) Error() string { return fmt.Sprintf("devnode: %s", e.Reason) }
