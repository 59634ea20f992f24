package broadcast

import "github.com/vdatab/canrm/internal/canbus"

type requestKind int

const (
	kindReply requestKind = iota
	kindNotify
)

// pendingRequest is a client blocked waiting for its next frame (a read
// with no data yet available) or waiting to be told one has arrived (an
// armed notify/poll). Grounded on CanManager::DelayElement.
type pendingRequest struct {
	kind    requestKind
	client  *Client
	deliver func(canbus.Frame) // fires for kindReply on a match
	notify  func()             // fires for kindNotify on a match
	cancel  func()             // fires for either kind on client disconnect
}

// RegisterReply parks a blocking read: deliver is invoked with the next
// frame the client's filter accepts, from inside whichever goroutine
// calls Push; cancel is invoked instead if the client disconnects first.
// Grounded on io_read's push onto delayedQueue_ when no message is
// immediately available.
func (r *Ring) RegisterReply(c *Client, deliver func(canbus.Frame), cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, pendingRequest{kind: kindReply, client: c, deliver: deliver, cancel: cancel})
}

// RegisterNotify arms a one-shot wakeup for poll/select-style waiters.
// Grounded on io_notify's push onto delayedQueue_ when
// _NOTIFY_ACTION_POLLARM finds nothing pending yet.
func (r *Ring) RegisterNotify(c *Client, notify func(), cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, pendingRequest{kind: kindNotify, client: c, notify: notify, cancel: cancel})
}

// CancelClient removes every pending request belonging to c (on client
// disconnect) and invokes each one's cancel callback, unblocking it.
// Grounded on CanManager::io_close_ocb's delayedQueue_ walk, which
// replies EOK with no data to every request it finds for the closing
// OCB.
func (r *Ring) CancelClient(c *Client) {
	r.mu.Lock()
	var toCancel []pendingRequest
	kept := r.pending[:0]
	for _, p := range r.pending {
		if p.client == c {
			toCancel = append(toCancel, p)
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
	r.mu.Unlock()

	for _, p := range toCancel {
		if p.cancel != nil {
			p.cancel()
		}
	}
}
