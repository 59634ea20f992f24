// Package broadcast fans one controller's incoming frames out to every
// open client, each tracking its own read position and filter, with a
// shared ring buffer so a slow client only risks falling behind (and
// fast-forwarding), never blocking the fast ones. Grounded on
// CanManager's static message queue and delayed-request queue
// (can_manager.{h,cpp}).
package broadcast

import (
	"fmt"
	"sync"

	"github.com/vdatab/canrm/internal/canbus"
)

// Ring is the single producer / many consumer frame buffer. One Ring
// backs one Controller. Grounded on CanManager's
// canMessageQueue_/queueHead_/queueBottom_/queueMutex_.
type Ring struct {
	mu sync.Mutex

	buf  []canbus.Frame
	mask uint32

	head    uint32
	bottom  uint32
	filling bool

	pending []pendingRequest
}

// NewRing allocates a ring of 2^sizeLog frames. sizeLog must be 0-24,
// matching CanManager's constructor ("nQueueSize > 24" throws) and its
// queueSize_ = 0xFFFFFFFF >> (32 - nQueueSize) bit-mask construction.
func NewRing(sizeLog uint32) (*Ring, error) {
	if sizeLog > 24 {
		return nil, fmt.Errorf("broadcast: invalid ring size log2 %d, must be 0-24", sizeLog)
	}
	mask := uint32(0xFFFFFFFF) >> (32 - sizeLog)
	return &Ring{
		buf:     make([]canbus.Frame, mask+1),
		mask:    mask,
		filling: true,
	}, nil
}

// Open positions a freshly attached client: at the current head if
// appendMode (O_APPEND semantics — only frames arriving after open are
// visible), otherwise at the oldest frame still in the ring. Grounded on
// CanManager::io_open.
func (r *Ring) Open(c *Client, appendMode bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appendMode {
		c.offset = r.head
	} else {
		c.offset = r.bottom
	}
}

func (r *Ring) clampLocked(c *Client) {
	if c.offset > r.head || c.offset < r.bottom {
		c.offset = r.bottom
	}
}

// TryRead returns the next frame the client's filter accepts, advancing
// its cursor past everything it skipped over. Grounded on the
// non-blocking scan in CanManager::io_read.
func (r *Ring) TryRead(c *Client) (canbus.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clampLocked(c)
	for c.offset != r.head {
		frame := r.buf[c.offset&r.mask]
		c.offset++
		if c.filter.Accepts(frame) {
			return frame, true
		}
	}
	return canbus.Frame{}, false
}

// HasPending reports whether a client's filter would accept something
// already sitting in the ring, without consuming it. Grounded on the
// trig/_NOTIFY_COND_INPUT scan in CanManager::io_notify.
func (r *Ring) HasPending(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clampLocked(c)
	off := c.offset
	for off != r.head {
		if c.filter.Accepts(r.buf[off&r.mask]) {
			return true
		}
		off++
	}
	return false
}

// PendingCount reports how many requests are currently parked. Exposed
// for tests that need to observe a parked request getting cleaned up
// rather than leaking, the Go equivalent of inspecting
// delayedQueue_.size().
func (r *Ring) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// SetFilter installs a client's acceptance filter under the ring's lock,
// since the client's offset and filter are read together by Push.
func (r *Ring) SetFilter(c *Client, filter canbus.Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.filter = filter
}

// Push appends one frame produced by the controller, then walks every
// outstanding delayed request exactly as CanManager::DataReceiveThread
// does: a pending request only fires if the client's cursor was sitting
// right at the slot this frame just filled.
func (r *Ring) Push(frame canbus.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := r.head
	r.buf[head&r.mask] = frame

	kept := r.pending[:0]
	for _, p := range r.pending {
		erased := false
		if p.client.offset == head {
			if p.client.filter.Accepts(frame) {
				switch p.kind {
				case kindReply:
					p.deliver(frame)
				case kindNotify:
					p.notify()
				}
				erased = true
			}
			if p.kind == kindReply || !erased {
				p.client.offset++
			}
		}
		if !erased {
			kept = append(kept, p)
		}
	}
	r.pending = kept

	r.head++
	if r.head > r.mask {
		r.filling = false
	}
	if !r.filling {
		r.bottom++
	}
}
