// Package sja1000 drives the Philips/NXP SJA1000 standalone CAN
// controller in PeliCAN mode: probing, bit-timing configuration,
// interrupt-driven receive, and a priority-ordered transmit queue.
// Grounded on original_source/resmgr/src/sja1000_can_controller.{h,cpp}
// and restructured in the teacher's register-device idiom
// (core_engine/devices/ne2000.go, pic.go): exported register constants,
// a mutex-guarded struct, and an InterruptRaiser-shaped collaborator
// (here, irqsource.Source) instead of calling back into a PIC directly.
package sja1000

// Register offsets into the SJA1000's PeliCAN-mode register file.
// Mirrors the SJA1000Map layout in sja1000_can_controller.h.
const (
	RegMode        uint32 = 0x00
	RegCommand     uint32 = 0x01
	RegStatus      uint32 = 0x02
	RegInterrupt   uint32 = 0x03
	RegInterruptEn uint32 = 0x04
	// 0x05 reserved
	RegBusTiming0 uint32 = 0x06
	RegBusTiming1 uint32 = 0x07
	RegOutputCtrl uint32 = 0x08
	RegTest       uint32 = 0x09
	// 0x0A reserved
	RegArbLostCap   uint32 = 0x0B
	RegErrCodeCap   uint32 = 0x0C
	RegErrWarnLimit uint32 = 0x0D
	RegRxErrCount   uint32 = 0x0E
	RegTxErrCount   uint32 = 0x0F
	RegFrameInfo    uint32 = 0x10 // RX/TX frame information byte
	RegIDData       uint32 = 0x11 // RX/TX identifier + data, 12 bytes (0x11-0x1C)
	RegRxMsgCount   uint32 = 0x1D
	RegRxBufStart   uint32 = 0x1E
	RegClkDivider   uint32 = 0x1F
)

// Mode register bits.
const (
	ModeSleep             uint8 = 0x10
	ModeAcceptanceFilter  uint8 = 0x08
	ModeSelfTest          uint8 = 0x04
	ModeListenOnly        uint8 = 0x02
	ModeReset             uint8 = 0x01
)

// Clock divider register bits.
const (
	ClkDivCANMode     uint8 = 0x80 // PeliCAN mode
	ClkDivBypassInput uint8 = 0x40
	ClkDivRxIntEnable uint8 = 0x20
	ClkDivClockOff    uint8 = 0x08
)

// Status register bits.
const (
	StatusBusOff           uint8 = 0x80
	StatusError            uint8 = 0x40
	StatusTransmitting     uint8 = 0x20
	StatusReceiving        uint8 = 0x10
	StatusTransmitComplete uint8 = 0x08
	StatusTransmitBuffer   uint8 = 0x04
	StatusDataOverrun      uint8 = 0x02
	StatusReceiveBuffer    uint8 = 0x01
)

// Command register bits.
const (
	CmdClearOverrun     uint8 = 0x08
	CmdReleaseRxBuffer  uint8 = 0x04
	CmdAbortTransmit    uint8 = 0x02
	CmdTransmitRequest  uint8 = 0x01
)

// Interrupt register bits.
const (
	IntrBusError         uint8 = 0x80
	IntrArbitrationLost  uint8 = 0x40
	IntrErrorPassive     uint8 = 0x20
	IntrWakeUp           uint8 = 0x10
	IntrOverrun          uint8 = 0x08
	IntrErrorWarning     uint8 = 0x04
	IntrTransmit         uint8 = 0x02
	IntrReceive          uint8 = 0x01

	intrErrorMask = IntrBusError | IntrArbitrationLost | IntrErrorPassive |
		IntrWakeUp | IntrOverrun | IntrErrorWarning
)

// Frame information register bits (offset RegFrameInfo).
const (
	FrameExtended    uint8 = 0x80
	FrameRemote      uint8 = 0x40
	FrameLengthMask  uint8 = 0x0F
)
