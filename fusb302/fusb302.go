// Package fusb302 implements a USB Power Delivery sink port controller
// driver for the FUSB302B from ONSemi.
//
// The driver manages the attachment state, decodes received messages from
// the chip's FIFO and frames outgoing ones. It is polled: Poll must be
// called at least every millisecond and checks the interrupt line and the
// driver timeout once. Events are queued internally until consumed.
//
// The chip's toggle engine is not used. On boards where the interrupt pin
// doubles as a debug pin until communication starts, enabling automatic
// toggling would need the interrupt line too early; instead the driver
// measures CC1 and CC2 itself, alternating every 10ms until activity is
// seen.
package fusb302

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbcdev/go-pdsink"
	"github.com/usbcdev/go-pdsink/fifo"
	"github.com/usbcdev/go-pdsink/pdmsg"
)

// eventQueueDepth is the number of events buffered between the driver and
// the policy engine. Events pushed while the queue is full are dropped;
// state changes are recovered from the published state at the next poll and
// dropped messages are retransmitted by the source.
const eventQueueDepth = 6

// ErrPayloadTooShort is returned by SendMessage when the payload is shorter
// than the header's data object count requires.
var ErrPayloadTooShort = errors.New("fusb302: payload shorter than header demands")

// FUSB302 is a port controller driver instance. It owns all chip state and
// the transmit and receive buffers. Only Init, StartSink, Stop, Poll and the
// send methods mutate it, and only from a single goroutine.
type FUSB302 struct {
	hal pdsink.HAL
	log *log.Logger

	state  pdsink.AttachState
	events *fifo.Queue[pdsink.Event]

	timeoutActive bool
	timeoutExpiry uint32

	// CC line currently being measured (1 or 2), 0 when not measuring.
	measuringCC int

	nextMessageID uint8

	// Scratch buffer for register access and TX framing, sized for the
	// largest token stream (11 bytes of framing plus 28 bytes of payload).
	buf [40]byte

	// Receive buffer. Separate from the scratch buffer so a received
	// payload survives the register reads that follow it.
	rxBuf [32]byte
}

// New creates a driver instance on top of the given hardware access. All
// memory needed for future operations is allocated here.
func New(hal pdsink.HAL) *FUSB302 {
	return &FUSB302{
		hal:    hal,
		events: fifo.New[pdsink.Event](eventQueueDepth),
	}
}

// SetLogger sets the logger for debug output. Pass nil to disable.
func (f *FUSB302) SetLogger(l *log.Logger) { f.log = l }

func (f *FUSB302) logf(format string, args ...any) {
	if f.log != nil {
		f.log.Printf(format, args...)
	}
}

func (f *FUSB302) writeReg(reg, value uint8) error {
	f.buf[0] = value
	return f.hal.WriteRegisters(reg, f.buf[:1])
}

func (f *FUSB302) readReg(reg uint8) (uint8, error) {
	err := f.hal.ReadRegisters(reg, f.buf[:1])
	return f.buf[0], err
}

// Init resets the chip and brings the driver to its initial state without
// starting sink operation.
func (f *FUSB302) Init() error {
	// Full reset of the chip and its PD logic.
	if err := f.writeReg(regReset, resetSWReset|resetPDReset); err != nil {
		return err
	}
	f.hal.Delay(10)

	// Power up everything except the internal oscillator; it is only needed
	// while transmitting.
	if err := f.writeReg(regPower, powerAll&^powerIntOsc); err != nil {
		return err
	}
	// Disable all CC monitoring.
	if err := f.writeReg(regSwitches0, 0); err != nil {
		return err
	}
	// Mask all interrupts, including good-CRC-sent.
	if err := f.writeReg(regMask, maskAll); err != nil {
		return err
	}
	if err := f.writeReg(regMaskA, maskAAll); err != nil {
		return err
	}
	if err := f.writeReg(regMaskB, maskBAll); err != nil {
		return err
	}

	f.nextMessageID = 0
	f.timeoutActive = false
	f.measuringCC = 0
	f.state = pdsink.AttachStateUsb20
	f.events.Clear()
	return nil
}

// DeviceID reads and decodes the chip identification register.
func (f *FUSB302) DeviceID() (string, error) {
	id, err := f.readReg(regDeviceID)
	if err != nil {
		return "", fmt.Errorf("fusb302: reading device id: %w", err)
	}
	products := [4]string{"FUSB302B__X", "FUSB302B01MPX", "FUSB302B10MPX", "FUSB302B11MPX"}
	const versions = "????????ABCDEFGH"
	return fmt.Sprintf("%s %c_rev%c", products[id>>2&0x03], versions[id>>4], 'A'+id&0x03), nil
}

// StartSink starts monitoring CC1 and CC2 for a source.
func (f *FUSB302) StartSink() error {
	// BMC slicer: 1.35V threshold with 85mV hysteresis.
	if err := f.writeReg(regSlice, sliceSDACHys085mV|0x20); err != nil {
		return err
	}
	return f.startMeasurement(1)
}

// Stop takes the driver out of sink operation. It will no longer receive
// or send messages until StartSink is called again.
func (f *FUSB302) Stop() error {
	if err := f.writeReg(regMask, maskAll); err != nil {
		return err
	}
	if err := f.writeReg(regMaskA, maskAAll); err != nil {
		return err
	}
	if err := f.writeReg(regMaskB, maskBAll); err != nil {
		return err
	}
	if err := f.writeReg(regSwitches0, 0); err != nil {
		return err
	}
	f.timeoutActive = false
	f.measuringCC = 0
	f.state = pdsink.AttachStateUsb20
	return nil
}

// State returns the current attachment state.
func (f *FUSB302) State() pdsink.AttachState { return f.state }

// HasEvent reports whether an event is waiting to be consumed.
func (f *FUSB302) HasEvent() bool { return f.events.Len() != 0 }

// PopEvent removes and returns the oldest event. The zero event is returned
// when the queue is empty.
func (f *FUSB302) PopEvent() pdsink.Event {
	e, _ := f.events.Pop()
	return e
}

// Poll checks the interrupt line, then either processes the chip's
// interrupt registers or the driver timeout. After a call to Poll, new
// events may be available.
//
// A returned error is transient (an I2C transfer failed); the operation in
// progress is abandoned without state change and retried naturally on
// subsequent polls.
func (f *FUSB302) Poll() error {
	asserted, err := f.hal.IsInterruptAsserted()
	if err != nil {
		return err
	}
	if asserted {
		return f.checkForInterrupts()
	}

	if !f.hasTimeoutExpired() {
		return nil
	}
	switch f.state {
	case pdsink.AttachStateUsbPdWait:
		f.logf("%d: no CC activity", f.hal.Millis())
		return f.establishRetryWait()
	case pdsink.AttachStateUsb20:
		return f.checkMeasurement()
	case pdsink.AttachStateUsbRetryWait:
		f.state = pdsink.AttachStateUsb20
		return f.StartSink()
	}
	return nil
}

// startMeasurement configures pull-downs and the measurement block for one
// CC line and arms the measurement timeout.
func (f *FUSB302) startMeasurement(cc int) error {
	sw0 := uint8(switches0PdwnCC1 | switches0PdwnCC2 | switches0MeasCC1)
	if cc == 2 {
		sw0 = switches0PdwnCC1 | switches0PdwnCC2 | switches0MeasCC2
	}
	if err := f.writeReg(regSwitches0, sw0); err != nil {
		return err
	}
	f.startTimeout(10)
	f.measuringCC = cc
	return nil
}

// checkMeasurement reads the BC_LVL result for the measured CC line. No
// level means no source on this line, so measurement flips to the other
// one.
func (f *FUSB302) checkMeasurement() error {
	// The first read after a measurement period may be stale; discard it.
	if _, err := f.readReg(regStatus0); err != nil {
		return err
	}
	status0, err := f.readReg(regStatus0)
	if err != nil {
		return err
	}
	if status0&status0BCLvlMask == 0 {
		cc := 2
		if f.measuringCC == 2 {
			cc = 1
		}
		return f.startMeasurement(cc)
	}

	cc := f.measuringCC
	f.measuringCC = 0
	return f.establishUsbPdWait(cc)
}

// establishUsbPdWait binds transmit, receive and auto-CRC to the detected
// CC line and waits for the first message from the source.
func (f *FUSB302) establishUsbPdWait(cc int) error {
	// The interrupt pin can now be claimed from its alternate function.
	if err := f.hal.InitIntN(); err != nil {
		return err
	}

	// Automatic retries.
	if err := f.writeReg(regControl3, control3AutoRetry|control3ThreeRetries); err != nil {
		return err
	}
	// Interrupts for CC activity and CRC check.
	if err := f.writeReg(regMask, maskAll&^(maskActivity|maskCrcChk)); err != nil {
		return err
	}
	// All of INTERRUPTA (hard reset, retry fail, tx sent etc.).
	if err := f.writeReg(regMaskA, maskANone); err != nil {
		return err
	}
	// Good CRC sent.
	if err := f.writeReg(regMaskB, maskBNone); err != nil {
		return err
	}

	sw0 := uint8(switches0PdwnCC1 | switches0PdwnCC2 | switches0MeasCC1)
	sw1 := uint8(switches1SpecRev20 | switches1AutoCRC | switches1TxCC1)
	if cc == 2 {
		sw0 = switches0PdwnCC1 | switches0PdwnCC2 | switches0MeasCC2
		sw1 = switches1SpecRev20 | switches1AutoCRC | switches1TxCC2
	}
	if err := f.writeReg(regSwitches0, sw0); err != nil {
		return err
	}
	if err := f.writeReg(regSwitches1, sw1); err != nil {
		return err
	}
	// Unmask the global interrupt output.
	if err := f.writeReg(regControl0, 0); err != nil {
		return err
	}

	f.state = pdsink.AttachStateUsbPdWait
	f.startTimeout(300)
	return nil
}

// establishUsbPd is entered when the first valid non-GoodCRC message
// arrives.
func (f *FUSB302) establishUsbPd() {
	f.state = pdsink.AttachStateUsbPd
	f.cancelTimeout()
	f.logf("USB PD communication established")
	f.events.Push(pdsink.StateChangedEvent())
}

// establishRetryWait resets the chip after a hard reset or a communication
// timeout and waits 500ms before measuring CC again.
func (f *FUSB302) establishRetryWait() error {
	f.logf("reset")
	if err := f.Init(); err != nil {
		return err
	}
	f.state = pdsink.AttachStateUsbRetryWait
	f.startTimeout(500)
	f.events.Push(pdsink.StateChangedEvent())
	return nil
}

func (f *FUSB302) checkForInterrupts() error {
	interrupt, err := f.readReg(regInterrupt)
	if err != nil {
		return err
	}
	interruptA, err := f.readReg(regInterruptA)
	if err != nil {
		return err
	}
	interruptB, err := f.readReg(regInterruptB)
	if err != nil {
		return err
	}

	if interruptA&intAHardReset != 0 {
		f.logf("%d: hard reset", f.hal.Millis())
		return f.establishRetryWait()
	}
	if interruptA&intARetryFail != 0 {
		f.logf("retry failed")
	}
	if interruptA&intATxSent != 0 {
		status1, err := f.readReg(regStatus1)
		if err != nil {
			return err
		}
		// Turn the internal oscillator back off once the TX FIFO has
		// drained.
		if status1&status1TxEmpty != 0 {
			if err := f.writeReg(regPower, powerAll&^powerIntOsc); err != nil {
				return err
			}
		}
	}

	if interrupt&(intActivity|intCrcChk) != 0 || interruptB&intBGCRCSent != 0 {
		return f.checkForMessages()
	}
	return nil
}

// checkForMessages drains the RX FIFO, queueing one event per valid
// message.
func (f *FUSB302) checkForMessages() error {
	for {
		status1, err := f.readReg(regStatus1)
		if err != nil {
			return err
		}
		if status1&status1RxEmpty != 0 {
			return nil
		}

		header, payload, ok, err := f.readMessage()
		if err != nil {
			return err
		}
		if !ok {
			// Not an SOP frame; the FIFO has been flushed.
			return nil
		}

		status0, err := f.readReg(regStatus0)
		if err != nil {
			return err
		}
		switch {
		case status0&status0CrcChk == 0:
			f.logf("invalid CRC")
		case header.Type() == pdmsg.TypeGoodCRC:
			// Consumed by the chip's protocol handling; not an event.
		default:
			if f.state != pdsink.AttachStateUsbPd {
				f.establishUsbPd()
			}
			f.events.Push(pdsink.MessageEvent(uint16(header), payload))
		}
	}
}

// readMessage reads one frame from the RX FIFO. ok is false if the frame
// did not start with an SOP token, in which case the FIFO is flushed.
func (f *FUSB302) readMessage() (header pdmsg.Header, payload []byte, ok bool, err error) {
	// Token and the two header bytes.
	if err = f.hal.ReadRegisters(regFIFOs, f.buf[:3]); err != nil {
		return 0, nil, false, err
	}
	if f.buf[0]&0xe0 != 0xe0 {
		return 0, nil, false, f.writeReg(regControl1, control1RxFlush)
	}
	header = pdmsg.Header(uint16(f.buf[1]) | uint16(f.buf[2])<<8)

	// Data objects plus the 4 CRC bytes, which are discarded.
	n := header.NumDataObjects() * 4
	if err = f.hal.ReadRegisters(regFIFOs, f.rxBuf[:n+4]); err != nil {
		return 0, nil, false, err
	}
	return header, f.rxBuf[:n], true, nil
}

// SendMessage transmits a message with the given header and payload. The
// payload length is taken from the header's data object count; the message
// ID is stamped into the header and advanced on success. The chip appends
// the CRC and handles retries.
func (f *FUSB302) SendMessage(header pdmsg.Header, payload []byte) error {
	payloadLen := header.NumDataObjects() * 4
	if len(payload) < payloadLen {
		return ErrPayloadTooShort
	}

	// The internal oscillator must run to transmit.
	if err := f.writeReg(regPower, powerAll); err != nil {
		return err
	}

	header = header.WithMessageID(f.nextMessageID)

	f.buf[0] = fifoTokenSync1
	f.buf[1] = fifoTokenSync1
	f.buf[2] = fifoTokenSync1
	f.buf[3] = fifoTokenSync2
	f.buf[4] = fifoTokenPackSym | uint8(payloadLen+2)
	f.buf[5] = uint8(header)
	f.buf[6] = uint8(header >> 8)
	n := 7 + copy(f.buf[7:7+payloadLen], payload)
	f.buf[n] = fifoTokenJamCRC
	f.buf[n+1] = fifoTokenEOP
	f.buf[n+2] = fifoTokenTxOff
	f.buf[n+3] = fifoTokenTxOn

	if err := f.hal.WriteRegisters(regFIFOs, f.buf[:n+4]); err != nil {
		return err
	}

	f.nextMessageID = (f.nextMessageID + 1) % 8
	return nil
}

// SendControl transmits a control message without payload.
func (f *FUSB302) SendControl(t pdmsg.MessageType) error {
	return f.SendMessage(pdmsg.CreateControl(t, 2), nil)
}

func (f *FUSB302) startTimeout(ms uint32) {
	f.timeoutActive = true
	f.timeoutExpiry = f.hal.Millis() + ms
}

func (f *FUSB302) cancelTimeout() { f.timeoutActive = false }

func (f *FUSB302) hasTimeoutExpired() bool {
	if !f.timeoutActive || !pdsink.HasExpired(f.hal.Millis(), f.timeoutExpiry) {
		return false
	}
	f.timeoutActive = false
	return true
}
