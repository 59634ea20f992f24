// Package canclient is the client side of the internal/devnode wire
// protocol: what candump and cansend link against instead of talking to
// the device node directly. Grounded on the open()/read()/write()/
// ioctl() calls original_source/candump/candump.cpp and
// original_source/cansend/cansend.cpp make against /dev/can0-style
// device paths.
package canclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/vdatab/canrm/internal/canbus"
)

// Client is a connection to a canrm device node.
type Client struct {
	nc net.Conn
}

// Open dials the Unix domain socket at path and performs the open
// handshake. appendMode mirrors O_APPEND: only frames arriving after Open
// are visible to subsequent Read calls.
func Open(path string, appendMode bool) (*Client, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("canclient: dial %s: %w", path, err)
	}
	flags := byte(0)
	if appendMode {
		flags |= 1 << 0 // FlagAppend, mirrored here to avoid importing internal/devnode
	}
	if _, err := nc.Write([]byte{flags}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("canclient: open handshake: %w", err)
	}
	if err := expectOK(nc); err != nil {
		nc.Close()
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Close ends the connection, implicitly canceling any delayed read.
func (c *Client) Close() error { return c.nc.Close() }

const (
	opRead   = 1
	opWrite  = 2
	opDevctl = 3
	opPoll   = 4

	devctlSetFilter = 0

	statusOK     = 0
	statusNoData = 1
	statusErr    = 2
	statusClosed = 3
)

// Read blocks until a frame is available (subject to the server side's
// registered filter) or the connection is closed.
func (c *Client) Read() (canbus.Frame, error) {
	return c.read(false)
}

// TryRead returns immediately, reporting ok=false if nothing is queued.
func (c *Client) TryRead() (canbus.Frame, bool, error) {
	frame, err := c.read(true)
	if err == errNoData {
		return canbus.Frame{}, false, nil
	}
	if err != nil {
		return canbus.Frame{}, false, err
	}
	return frame, true, nil
}

var errNoData = fmt.Errorf("canclient: no data")

func (c *Client) read(nonBlock bool) (canbus.Frame, error) {
	nb := byte(0)
	if nonBlock {
		nb = 1
	}
	if _, err := c.nc.Write([]byte{opRead, nb}); err != nil {
		return canbus.Frame{}, err
	}
	status, err := readStatus(c.nc)
	if err != nil {
		return canbus.Frame{}, err
	}
	switch status {
	case statusOK:
		return readFrame(c.nc)
	case statusNoData:
		return canbus.Frame{}, errNoData
	case statusClosed:
		return canbus.Frame{}, io.EOF
	default:
		return canbus.Frame{}, readErrAsError(c.nc)
	}
}

// Poll blocks until a frame matching the installed filter is available,
// without consuming it, or until the connection is closed. TryPoll
// reports readiness immediately instead of waiting.
func (c *Client) Poll() error {
	return c.poll(false)
}

// TryPoll reports whether a read would currently return data, without
// consuming it and without blocking.
func (c *Client) TryPoll() (bool, error) {
	err := c.poll(true)
	if err == errNoData {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) poll(nonBlock bool) error {
	nb := byte(0)
	if nonBlock {
		nb = 1
	}
	if _, err := c.nc.Write([]byte{opPoll, nb}); err != nil {
		return err
	}
	status, err := readStatus(c.nc)
	if err != nil {
		return err
	}
	switch status {
	case statusOK:
		return nil
	case statusNoData:
		return errNoData
	case statusClosed:
		return io.EOF
	default:
		return readErrAsError(c.nc)
	}
}

// Write transmits one frame.
func (c *Client) Write(frame canbus.Frame) error {
	if _, err := c.nc.Write([]byte{opWrite}); err != nil {
		return err
	}
	if err := writeFrame(c.nc, frame); err != nil {
		return err
	}
	status, err := readStatus(c.nc)
	if err != nil {
		return err
	}
	if status != statusOK {
		return readErrAsError(c.nc)
	}
	return nil
}

// SetFilter installs an acceptance filter for subsequent reads.
func (c *Client) SetFilter(filt canbus.Filter) error {
	if _, err := c.nc.Write([]byte{opDevctl, devctlSetFilter}); err != nil {
		return err
	}
	if err := writeFilter(c.nc, filt); err != nil {
		return err
	}
	status, err := readStatus(c.nc)
	if err != nil {
		return err
	}
	if status != statusOK {
		return readErrAsError(c.nc)
	}
	return nil
}

func readStatus(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func expectOK(r io.Reader) error {
	status, err := readStatus(r)
	if err != nil {
		return err
	}
	if status != statusOK {
		return readErrAsError(r)
	}
	return nil
}

func readErrAsError(r io.Reader) error {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("canclient: error response (unreadable reason): %w", err)
	}
	buf := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("canclient: error response (unreadable reason): %w", err)
	}
	return fmt.Errorf("canclient: %s", string(buf))
}

const frameWireSize = 16

func writeFrame(w io.Writer, f canbus.Frame) error {
	var buf [frameWireSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], f.CanID)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	_, err := w.Write(buf[:])
	return err
}

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

const filterWireSize = 12

func writeFilter(w io.Writer, filt canbus.Filter) error {
	var buf [filterWireSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(filt.Mode))
	binary.LittleEndian.PutUint32(buf[4:8], filt.First)
	binary.LittleEndian.PutUint32(buf[8:12], filt.Second)
	_, err := w.Write(buf[:])
	return err
}
