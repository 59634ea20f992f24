package sja1000

import "fmt"

// ProbeError reports that IsThereDevice's signature check failed: either
// the reset-mode handshake timed out or the 0x55/0xAA loopback write
// through BusTiming0 did not read back. Grounded on
// SJA1000CanController::IsThereDevice (sja1000_can_controller.cpp).
type ProbeError struct {
	Reason string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("sja1000: probe failed: %s", e.Reason)
}

// BusError describes one decoded CAN_IR_BEI bus error capture, replacing
// the original's capturedError string, which in the upstream C++ was
// built by expression-statements that computed a concatenation and
// discarded it (`capturedError + "bit error in "` with no assignment),
// so no bus error message was ever actually produced. This type performs
// the assignment the original omitted.
type BusError struct {
	Segment string
	Position string
}

func (e BusError) String() string {
	return fmt.Sprintf("bus error: %s%s", e.Segment, e.Position)
}

// segmentLabels decodes bits 6-7 of the error code capture register.
// Text preserved verbatim from ProcessErrorBuffer's switch, including its
// original typography.
var segmentLabels = map[uint8]string{
	0x00: "bit error in ",
	0x40: "form error in ",
	0x80: "stuff error in ",
	0xC0: "other type of error in ",
}

// positionLabels decodes bits 0-4 of the error code capture register.
var positionLabels = map[uint8]string{
	0x03: "start of frame",
	0x02: "ID.28 to ID.21",
	0x06: "ID.20 to ID.18",
	0x04: "bit SRTR",
	0x05: "bit IDE",
	0x07: "ID.17 to ID.13",
	0x0F: "ID.12 to ID.5",
	0x0E: "ID.4 to ID.0",
	0x0C: "bit RTR",
	0x0D: "reserved bit 1",
	0x09: "reserved bit 0",
	0x0B: "data length code",
	0x0A: "data ﬁeld",
	0x08: "CRC sequence",
	0x18: "CRC delimiter",
	0x19: "ackno wledge slot",
	0x1B: "ackno wledge delimiter",
	0x1A: "end of frame",
	0x12: "intermission",
	0x11: "active error ﬂag",
	0x16: "passive error ﬂag",
	0x13: "tolerate dominant bits",
	0x17: "error delimiter",
	0x1C: "overload flag",
}

// decodeBusError turns an ErrCodeCap register read into a BusError,
// grounded on ProcessErrorBuffer's two switches over capturedErrorCode.
func decodeBusError(capturedErrorCode uint8) BusError {
	segment, ok := segmentLabels[capturedErrorCode&0xC0]
	if !ok {
		segment = "other type of error in "
	}
	position, ok := positionLabels[capturedErrorCode&0x1F]
	if !ok {
		position = "undefined position"
	}
	return BusError{Segment: segment, Position: position}
}

// ErrorWarningStatus snapshots the registers ProcessErrorBuffer logs
// alongside a CAN_IR_ERRINT occurrence.
type ErrorWarningStatus struct {
	WarningLimit uint8
	RxErrCount   uint8
	TxErrCount   uint8
	RxMsgCount   uint8
}
