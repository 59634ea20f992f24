package devnode

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/vdatab/canrm/internal/broadcast"
	"github.com/vdatab/canrm/internal/canbus"
)

// Writer is the subset of sja1000.Controller a connection needs to send
// frames out to the bus.
type Writer interface {
	WriteMessage(frame canbus.Frame) error
}

// conn services one accepted connection, i.e. one OCB. Grounded on
// CanExtendedOCB plus the io_* dispatch in can_manager.cpp, restructured
// as one goroutine per connection rather than one resmgr thread per
// message: every reply is written from this goroutine alone, so a
// delayed reply's deliver callback (invoked from the feeder goroutine
// inside Ring.Push) only ever hands a frame across a channel, never
// writes the socket itself.
//
// A second goroutine, readRequests, owns every read from nc. It is the
// only way this connection can notice the peer going away while the
// main goroutine sits parked inside handleRead or handlePoll: the wire
// protocol is strictly request/response with no pipelining, so once a
// request has been handed off, readRequests' next call to read the
// following opcode blocks on the socket until either the peer sends
// something (which cannot happen before it gets a reply) or the peer
// closes, at which point the read fails and peerGone is closed. That
// unblocks whichever select is currently parked, mirroring
// io_close_ocb's delayedQueue_ walk on a real close.
type conn struct {
	nc     net.Conn
	ring   *broadcast.Ring
	writer Writer
	client *broadcast.Client
	log    *logrus.Entry

	nonBlock bool // FlagNonBlock was given at open
	peerGone chan struct{}
}

// request is one fully-decoded client message, parsed off the wire by
// readRequests before it ever reaches dispatch.
type request struct {
	op        Opcode
	nonBlock  bool
	frame     canbus.Frame
	devctlCmd DevctlCommand
	filter    canbus.Filter
}

// serve runs until the client disconnects or ctx is canceled. Errors
// writing to or reading from the socket end the connection silently;
// everything else is reported to the peer as a StatusErr response.
func (c *conn) serve(ctx context.Context) {
	c.peerGone = make(chan struct{})
	defer func() {
		if c.client != nil {
			c.ring.CancelClient(c.client)
		}
		c.nc.Close()
	}()

	if err := c.handleOpen(); err != nil {
		c.log.WithError(err).Debug("open failed")
		return
	}

	reqCh := make(chan request)
	stop := make(chan struct{})
	defer close(stop)
	go c.readRequests(reqCh, stop)

	for {
		select {
		case req := <-reqCh:
			if !c.dispatch(ctx, req) {
				return
			}
		case <-c.peerGone:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readRequests decodes one request at a time off the wire and hands it
// to serve's dispatch loop. It is the sole reader of c.nc for the life
// of the connection (handleOpen runs before this goroutine starts), so
// a read failure here unambiguously means the peer is gone.
func (c *conn) readRequests(reqCh chan<- request, stop <-chan struct{}) {
	defer close(c.peerGone)
	for {
		op, err := readOpcode(c.nc)
		if err != nil {
			return
		}

		req := request{op: op}
		switch op {
		case OpRead, OpPoll:
			var b [1]byte
			if _, err := io.ReadFull(c.nc, b[:]); err != nil {
				return
			}
			req.nonBlock = b[0] != 0
		case OpWrite:
			frame, err := readFrame(c.nc)
			if err != nil {
				return
			}
			req.frame = frame
		case OpDevctl:
			var cmdByte [1]byte
			if _, err := io.ReadFull(c.nc, cmdByte[:]); err != nil {
				return
			}
			req.devctlCmd = DevctlCommand(cmdByte[0])
			if req.devctlCmd == DevctlSetFilter {
				filt, err := readFilter(c.nc)
				if err != nil {
					return
				}
				req.filter = filt
			}
		case OpClose:
		default:
		}

		select {
		case reqCh <- req:
		case <-stop:
			return
		}
	}
}

// dispatch runs one already-decoded request's handler and reports
// whether the connection should keep going.
func (c *conn) dispatch(ctx context.Context, req request) bool {
	switch req.op {
	case OpRead:
		return c.handleRead(ctx, req.nonBlock || c.nonBlock) == nil
	case OpWrite:
		return c.handleWrite(req.frame) == nil
	case OpDevctl:
		return c.handleDevctl(req.devctlCmd, req.filter) == nil
	case OpPoll:
		return c.handlePoll(ctx, req.nonBlock || c.nonBlock) == nil
	case OpClose:
		return false
	default:
		writeStatus(c.nc, StatusErr)
		writeErrorMessage(c.nc, fmt.Sprintf("unknown opcode %d", req.op))
		return false
	}
}

// handleOpen reads the single flags byte that begins every connection
// and positions a fresh Client into the ring. Grounded on
// CanManager::io_open.
func (c *conn) handleOpen() error {
	var b [1]byte
	if _, err := io.ReadFull(c.nc, b[:]); err != nil {
		return err
	}
	flags := OpenFlags(b[0])
	c.nonBlock = flags&FlagNonBlock != 0

	c.client = broadcast.NewClient()
	c.ring.Open(c.client, flags&FlagAppend != 0)
	return writeStatus(c.nc, StatusOK)
}

// handleRead serves one OpRead: a ready frame is returned immediately;
// otherwise, unless the client opened O_NONBLOCK or flagged this request
// non-blocking, the request is parked
// with Ring.RegisterReply and this goroutine blocks until either a
// matching frame arrives, the client disconnects, or the connection's
// context is canceled. Grounded on CanManager::io_read.
func (c *conn) handleRead(ctx context.Context, nonBlock bool) error {
	if frame, ok := c.ring.TryRead(c.client); ok {
		if err := writeStatus(c.nc, StatusOK); err != nil {
			return err
		}
		return writeFrame(c.nc, frame)
	}

	if nonBlock {
		return writeStatus(c.nc, StatusNoData)
	}

	delivered := make(chan canbus.Frame, 1)
	canceled := make(chan struct{})
	var closeOnce closeGuard
	c.ring.RegisterReply(c.client,
		func(f canbus.Frame) { delivered <- f },
		func() { closeOnce.do(canceled) },
	)

	select {
	case frame := <-delivered:
		if err := writeStatus(c.nc, StatusOK); err != nil {
			return err
		}
		return writeFrame(c.nc, frame)
	case <-canceled:
		return writeStatus(c.nc, StatusClosed)
	case <-c.peerGone:
		c.ring.CancelClient(c.client)
		return io.ErrClosedPipe
	case <-ctx.Done():
		c.ring.CancelClient(c.client)
		return ctx.Err()
	}
}

// handleWrite decodes one frame and hands it to the controller for
// transmission. Grounded on CanManager::io_write.
func (c *conn) handleWrite(frame canbus.Frame) error {
	if err := c.writer.WriteMessage(frame); err != nil {
		if werr := writeStatus(c.nc, StatusErr); werr != nil {
			return werr
		}
		return writeErrorMessage(c.nc, err.Error())
	}
	return writeStatus(c.nc, StatusOK)
}

// handleDevctl installs a filter on this client. Grounded on
// CanManager::io_devctl's EDCMD_SET_MASK case.
func (c *conn) handleDevctl(cmd DevctlCommand, filt canbus.Filter) error {
	switch cmd {
	case DevctlSetFilter:
		c.ring.SetFilter(c.client, filt)
		return writeStatus(c.nc, StatusOK)
	default:
		if err := writeStatus(c.nc, StatusErr); err != nil {
			return err
		}
		return writeErrorMessage(c.nc, "unknown devctl command")
	}
}

// handlePoll serves one OpPoll: if a matching frame is already sitting
// in the ring it replies StatusOK without consuming it, mirroring
// io_notify's trig peek. Otherwise, unless the client opened O_NONBLOCK
// or flagged this request non-blocking, it arms a one-shot wakeup with Ring.RegisterNotify and
// blocks until a matching frame is pushed, the client disconnects, or
// the connection's context is canceled.
//
// Grounded on CanManager::io_notify's _NOTIFY_ACTION_POLLARM handling:
// the original reports conditions already satisfied immediately and
// otherwise pushes a delayed ET_NOTIFY entry that a later
// MsgDeliverEvent fulfills against the client's kernel-level poll/select
// wait. This wire protocol has no separate asynchronous event channel
// back to the client, so the closest equivalent is that "delivery" is
// simply unblocking this still-outstanding OpPoll response.
func (c *conn) handlePoll(ctx context.Context, nonBlock bool) error {
	if c.ring.HasPending(c.client) {
		return writeStatus(c.nc, StatusOK)
	}

	if nonBlock {
		return writeStatus(c.nc, StatusNoData)
	}

	notified := make(chan struct{}, 1)
	canceled := make(chan struct{})
	var closeOnce closeGuard
	c.ring.RegisterNotify(c.client,
		func() { notified <- struct{}{} },
		func() { closeOnce.do(canceled) },
	)

	select {
	case <-notified:
		return writeStatus(c.nc, StatusOK)
	case <-canceled:
		return writeStatus(c.nc, StatusClosed)
	case <-c.peerGone:
		c.ring.CancelClient(c.client)
		return io.ErrClosedPipe
	case <-ctx.Done():
		c.ring.CancelClient(c.client)
		return ctx.Err()
	}
}

// closeGuard closes a channel at most once; a pending request's cancel
// callback and a context-cancellation or peer-disconnect path can race
// to tear down the same request.
type closeGuard struct {
	done bool
}

func (g *closeGuard) do(ch chan struct{}) {
	if !g.done {
		g.done = true
		close(ch)
	}
}
