package broadcast

import "github.com/vdatab/canrm/internal/canbus"

// Client is the broadcast-side state one open device handle carries: its
// read cursor into the Ring and its acceptance filter. Grounded on
// CanExtendedOCB (can_manager.h), minus the QNX-specific
// iofunc_ocb_t/notify-event fields, which the device-node server tracks
// itself (internal/devnode).
type Client struct {
	offset uint32
	filter canbus.Filter
}

// NewClient returns a Client with the default pass-everything filter,
// not yet positioned into any Ring (Ring.Open does that).
func NewClient() *Client {
	return &Client{filter: canbus.DisabledFilter()}
}

// Filter reports the client's current acceptance filter.
func (c *Client) Filter() canbus.Filter { return c.filter }
