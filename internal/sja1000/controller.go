package sja1000

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vdatab/canrm/internal/canbus"
	"github.com/vdatab/canrm/internal/irqsource"
	"github.com/vdatab/canrm/internal/register"
)

const (
	receiveBufferSize   = 1024
	errorBufferSize     = 1024
	maxReceivedMessages = 8
)

// Controller drives one SJA1000 chip. One Controller owns exactly one
// register window and one interrupt source; the broadcast ring and
// device-node server build on top of it.
//
// Grounded on SJA1000CanController (sja1000_can_controller.{h,cpp}),
// restructured the way the teacher structures a register-backed device
// with an interrupt collaborator: exported methods taking the mutex,
// a background goroutine standing in for the original's
// InterruptHandleTh thread (devices/ne2000.go's receivePacketsLoop is
// the closest analogue — a single goroutine draining device state
// instead of a pulse-driven thread pair).
type Controller struct {
	acc  register.Accessor
	irq  irqsource.Source
	baud BaudRate
	log  *logrus.Entry

	// regMu serializes register-touching critical sections, standing in
	// for the original's interrupt spinlock (EnterCmdRegWriteCriticalSection).
	regMu sync.Mutex

	receiveMu   sync.Mutex
	receiveCond *sync.Cond
	receiveBuf  [receiveBufferSize]canbus.Frame
	receiveHead int
	receiveTail int

	errorMu  sync.Mutex
	errorBuf [errorBufferSize]uint8
	errorHead int
	errorTail int

	transmitMu         sync.Mutex
	transmitQueue       txQueue
	transmitBufferFree bool

	inited bool

	stopServiceLoop chan struct{}
	serviceLoopDone chan struct{}
}

// New constructs a Controller over an already-opened register accessor
// and interrupt source. It does not touch hardware until Init is called.
func New(acc register.Accessor, irq irqsource.Source, baud BaudRate, log *logrus.Entry) *Controller {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Controller{
		acc:                acc,
		irq:                irq,
		baud:               baud,
		log:                log,
		transmitBufferFree: true,
	}
	c.receiveCond = sync.NewCond(&c.receiveMu)
	return c
}

func (c *Controller) getByte(offset uint32) uint8          { return c.acc.GetByte(offset) }
func (c *Controller) putByte(offset uint32, value uint8)   { c.acc.PutByte(offset, value) }

// probe confirms a real SJA1000 answers at the mapped window, grounded on
// SJA1000CanController::IsThereDevice: enter reset mode, then round-trip
// two signature bytes through BusTiming0.
func (c *Controller) probe() error {
	c.log.Debug("probing for SJA1000")

	c.getByte(RegStatus)
	c.getByte(RegArbLostCap)
	c.getByte(RegErrCodeCap)
	c.getByte(RegRxErrCount)
	c.getByte(RegTxErrCount)

	c.putByte(RegMode, ModeReset)

	deadline := time.Now().Add(100 * time.Millisecond)
	for c.getByte(RegMode)&ModeReset == 0 {
		if time.Now().After(deadline) {
			return &ProbeError{Reason: "timeout entering reset mode"}
		}
	}

	c.putByte(RegBusTiming0, 0x55)
	if got := c.getByte(RegBusTiming0); got != 0x55 {
		return &ProbeError{Reason: fmt.Sprintf("0x55 signature missing, got %#x", got)}
	}

	c.putByte(RegBusTiming0, 0xAA)
	if got := c.getByte(RegBusTiming0); got != 0xAA {
		return &ProbeError{Reason: fmt.Sprintf("0xAA signature missing, got %#x", got)}
	}

	c.log.Debug("probe done")
	return nil
}

// Init brings the chip out of reset into normal PeliCAN operation and
// starts the background service goroutine. Grounded on
// SJA1000CanController::InitController.
func (c *Controller) Init() error {
	if err := c.probe(); err != nil {
		return fmt.Errorf("sja1000: no controller present: %w", err)
	}

	c.putByte(RegClkDivider, ClkDivCANMode|ClkDivClockOff)
	c.putByte(RegMode, ModeAcceptanceFilter|ModeReset)
	c.putByte(RegCommand, CmdAbortTransmit|CmdClearOverrun|CmdReleaseRxBuffer)
	c.putByte(RegFrameInfo, 0xFF) // acceptance code 0

	for i := uint32(0); i < 7; i++ {
		c.putByte(RegIDData+i, 0xFF) // acceptance code/mask, pass everything at the chip level
	}

	btr0, btr1 := c.baud.registers()
	c.putByte(RegBusTiming0, btr0)
	c.putByte(RegBusTiming1, btr1)

	c.putByte(RegOutputCtrl, 0x1A)

	c.getByte(RegInterrupt)                                        // clear any pending interrupt
	c.putByte(RegInterruptEn, 0xBF)                                 // all but arbitration-lost
	c.putByte(RegErrWarnLimit, 96)
	c.putByte(RegTxErrCount, 0)
	c.putByte(RegRxErrCount, 0)
	c.putByte(RegMode, c.getByte(RegMode)&^ModeReset) // normal mode

	deadline := time.Now().Add(time.Second)
	for c.getByte(RegMode)&ModeReset != 0 {
		if time.Now().After(deadline) {
			return &ProbeError{Reason: "timeout leaving reset mode"}
		}
	}

	c.getByte(RegArbLostCap)
	c.getByte(RegErrCodeCap)
	c.getByte(RegRxErrCount)
	c.getByte(RegTxErrCount)

	c.inited = true
	c.stopServiceLoop = make(chan struct{})
	c.serviceLoopDone = make(chan struct{})
	go c.serviceLoop()

	c.log.WithField("baud", c.baud).Info("sja1000 controller inited")
	return nil
}

// Close clears the mode register (all mode bits off, reset mode
// included) and stops the service goroutine. Grounded on
// SJA1000CanController::CloseController.
func (c *Controller) Close() error {
	if !c.inited {
		return nil
	}
	c.putByte(RegMode, 0)
	c.inited = false

	close(c.stopServiceLoop)
	_ = c.irq.Close()
	<-c.serviceLoopDone

	c.receiveMu.Lock()
	c.receiveCond.Broadcast()
	c.receiveMu.Unlock()

	c.log.Info("sja1000 controller closed")
	return nil
}

// WriteMessage enqueues a frame for transmission, sending it immediately
// if the transmit buffer is free and nothing is already queued ahead of
// it. Grounded on SJA1000CanController::WriteMessage.
func (c *Controller) WriteMessage(frame canbus.Frame) error {
	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()

	if len(c.transmitQueue) == 0 && c.transmitBufferFree {
		c.transmitMessage(frame)
	} else {
		heap.Push(&c.transmitQueue, frame)
	}
	return nil
}

// ReadMessage blocks until a frame has arrived or the controller is
// closed. Grounded on SJA1000CanController::ReadMessage, replacing the
// original's 2ms-polling condition_variable wait with a plain Go
// sync.Cond wait woken explicitly by the service goroutine.
func (c *Controller) ReadMessage(ctx context.Context) (canbus.Frame, error) {
	c.receiveMu.Lock()
	defer c.receiveMu.Unlock()

	for c.receiveHead == c.receiveTail && c.inited {
		if ctx.Err() != nil {
			return canbus.Frame{}, ctx.Err()
		}
		c.receiveCond.Wait()
	}

	if !c.inited {
		return canbus.Frame{}, fmt.Errorf("sja1000: controller closed")
	}

	frame := c.receiveBuf[c.receiveTail]
	c.receiveTail = (c.receiveTail + 1) % receiveBufferSize
	return frame, nil
}

// transmitMessage writes one frame to the chip's TX buffer and requests
// transmission. Grounded on SJA1000CanController::TransmitMessage; the
// EFF check runs first and unconditionally, matching the original's
// `if (canFrame.can_id & CAN_EFF_FLAG)` precedence.
func (c *Controller) transmitMessage(frame canbus.Frame) uint8 {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	c.transmitBufferFree = false

	frameInfo := uint8(0)
	if frame.IsExtended() {
		frameInfo |= FrameExtended
	}
	if frame.IsRemote() {
		frameInfo |= FrameRemote
	}
	frameInfo |= frame.Len & FrameLengthMask
	c.putByte(RegFrameInfo, frameInfo)

	dataOffset := uint32(2)
	if frame.IsExtended() {
		arbitration := (frame.CanID & canbus.EFFMask) << 3
		c.putByte(RegIDData+0, uint8(arbitration>>24))
		c.putByte(RegIDData+1, uint8(arbitration>>16))
		c.putByte(RegIDData+2, uint8(arbitration>>8))
		c.putByte(RegIDData+3, uint8(arbitration))
		dataOffset = 4
	} else {
		arbitration := (frame.CanID & canbus.SFFMask) << 5
		c.putByte(RegIDData+0, uint8(arbitration>>8))
		c.putByte(RegIDData+1, uint8(arbitration))
	}

	for i := uint8(0); i < frame.Len; i++ {
		c.putByte(RegIDData+dataOffset+uint32(i), frame.Data[i])
	}

	c.putByte(RegCommand, CmdTransmitRequest)
	return c.getByte(RegStatus)
}

// serviceLoop replaces the original's pulse-driven InterruptHandleTh: a
// single goroutine waits on the interrupt source, drains the chip's
// register file, and wakes any blocked readers. Grounded on
// InterruptServiceRoutine + InterruptHandleTh combined into one loop,
// since Go has no separate hardware-interrupt context to split out.
func (c *Controller) serviceLoop() {
	defer close(c.serviceLoopDone)
	ctx := context.Background()
	for {
		select {
		case <-c.stopServiceLoop:
			return
		default:
		}

		ev, err := c.irq.Wait(ctx)
		if err != nil {
			c.log.WithError(err).Warn("interrupt source wait failed")
			continue
		}
		if ev.Kind == irqsource.Terminate {
			return
		}

		if c.drainInterrupts() {
			c.processMessageBuffer()
			c.processErrorBuffer()
			c.processTransmitFlag()
		}
	}
}

// drainInterrupts is InterruptServiceRoutine: read the interrupt
// register until its low four bits read zero, dispatching RX/TX/error bits to
// their buffers. Returns whether anything was serviced.
func (c *Controller) drainInterrupts() bool {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	hit := false
	for {
		ireg := c.getByte(RegInterrupt)
		if ireg&0x0F == 0 {
			break
		}

		if ireg&IntrReceive != 0 {
			c.receiveMessage()
			hit = true
		}
		if ireg&IntrTransmit != 0 {
			c.transmitBufferFree = true
			hit = true
		}
		if ireg&intrErrorMask != 0 {
			c.addError(ireg)
			hit = true
			if ireg&IntrOverrun != 0 {
				c.putByte(RegCommand, CmdClearOverrun|CmdReleaseRxBuffer)
			}
		}
	}
	return hit
}

// receiveMessage drains up to maxReceivedMessages frames from the RX
// FIFO into the receive ring. Grounded on
// SJA1000CanController::ReceiveMessage. Caller holds regMu.
func (c *Controller) receiveMessage() {
	remaining := maxReceivedMessages
	for {
		frameInfo := c.getByte(RegFrameInfo)

		var frame canbus.Frame
		frame.Len = frameInfo & FrameLengthMask

		dataOffset := uint32(2)
		if frameInfo&FrameExtended != 0 {
			frame.CanID |= canbus.EFF
			id := (uint32(c.getByte(RegIDData+0)) << 21) |
				(uint32(c.getByte(RegIDData+1)) << 13) |
				(uint32(c.getByte(RegIDData+2)) << 5) |
				(uint32(c.getByte(RegIDData+3)) >> 3)
			frame.CanID |= id
			dataOffset = 4
		} else {
			id := (uint32(c.getByte(RegIDData+0)) << 3) |
				(uint32(c.getByte(RegIDData+1)) >> 5)
			frame.CanID |= id
		}
		if frameInfo&FrameRemote != 0 {
			frame.CanID |= canbus.RTR
		}

		for i := uint8(0); i < frame.Len; i++ {
			frame.Data[i] = c.getByte(RegIDData + dataOffset + uint32(i))
		}

		c.receiveMu.Lock()
		c.receiveBuf[c.receiveHead] = frame
		c.receiveHead = (c.receiveHead + 1) % receiveBufferSize
		c.receiveMu.Unlock()

		c.putByte(RegCommand, CmdReleaseRxBuffer)
		c.getByte(RegStatus)

		remaining--
		if c.getByte(RegStatus)&StatusReceiveBuffer == 0 || remaining == 0 {
			break
		}
	}
}

func (c *Controller) addError(ireg uint8) {
	c.errorMu.Lock()
	defer c.errorMu.Unlock()
	c.errorBuf[c.errorHead] = ireg
	c.errorHead = (c.errorHead + 1) % errorBufferSize
}

// processMessageBuffer wakes ReadMessage callers if frames have arrived.
func (c *Controller) processMessageBuffer() {
	c.receiveMu.Lock()
	if c.receiveHead != c.receiveTail {
		c.receiveCond.Broadcast()
	}
	c.receiveMu.Unlock()
}

// processErrorBuffer walks the pending interrupt-register captures and
// logs what they mean. Grounded on
// SJA1000CanController::ProcessErrorBuffer.
func (c *Controller) processErrorBuffer() {
	c.errorMu.Lock()
	defer c.errorMu.Unlock()

	for c.errorHead != c.errorTail {
		ireg := c.errorBuf[c.errorTail]

		if ireg&IntrBusError != 0 {
			captured := c.getByte(RegErrCodeCap)
			busErr := decodeBusError(captured)
			c.log.Errorf("bus error: %s%s", busErr.Segment, busErr.Position)
		}
		if ireg&IntrArbitrationLost != 0 {
			bit := c.getByte(RegArbLostCap)
			c.log.Errorf("arbitration lost position: %d", bit)
		}
		if ireg&IntrErrorPassive != 0 {
			c.log.Error("error passive")
		}
		if ireg&IntrWakeUp != 0 {
			c.log.Error("wake-up")
		}
		if ireg&IntrOverrun != 0 {
			c.log.Error("overrun")
		}
		if ireg&IntrErrorWarning != 0 {
			c.log.WithFields(logrus.Fields{
				"err_warn_limit": c.getByte(RegErrWarnLimit),
				"rx_err_count":   c.getByte(RegRxErrCount),
				"tx_err_count":   c.getByte(RegTxErrCount),
				"rx_msg_count":   c.getByte(RegRxMsgCount),
			}).Error("error warning")
		}

		c.errorTail = (c.errorTail + 1) % errorBufferSize
	}
}

// processTransmitFlag pops the highest-priority queued frame (lowest CAN
// arbitration id) once the transmit buffer frees up. Grounded on
// SJA1000CanController::ProcessTransmitFlag.
func (c *Controller) processTransmitFlag() {
	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()

	if c.transmitBufferFree && len(c.transmitQueue) > 0 {
		frame := heap.Pop(&c.transmitQueue).(canbus.Frame)
		c.transmitMessage(frame)
	}
}

// txQueue orders queued frames by ascending arbitration id: CAN
// arbitration favors the numerically lowest id, so the lowest id is
// always popped first. Grounded on the Comp functor in
// sja1000_can_controller.h, reimplemented as container/heap.Interface.
type txQueue []canbus.Frame

func (q txQueue) Len() int            { return len(q) }
func (q txQueue) Less(i, j int) bool  { return q[i].ID() < q[j].ID() }
func (q txQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *txQueue) Push(x interface{}) { *q = append(*q, x.(canbus.Frame)) }
func (q *txQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
