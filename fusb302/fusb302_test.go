package fusb302

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/usbcdev/go-pdsink"
	"github.com/usbcdev/go-pdsink/pdmsg"
)

// fakeHAL emulates just enough of the FUSB302B register file for the
// driver: plain registers are a byte array, the FIFO address streams bytes,
// interrupt registers clear on read and STATUS1.RX_EMPTY tracks the
// scripted RX FIFO.
type fakeHAL struct {
	regs      [0x44]uint8
	rx        []byte
	tx        []byte
	interrupt bool
	now       uint32
	failWith  error
}

func (h *fakeHAL) Init() error     { return nil }
func (h *fakeHAL) InitIntN() error { return nil }

func (h *fakeHAL) ReadRegisters(reg uint8, buf []byte) error {
	if h.failWith != nil {
		return h.failWith
	}
	if reg == regFIFOs {
		n := copy(buf, h.rx)
		h.rx = h.rx[n:]
		return nil
	}
	for i := range buf {
		r := reg + uint8(i)
		v := h.regs[r]
		switch r {
		case regStatus1:
			v &^= status1RxEmpty
			if len(h.rx) == 0 {
				v |= status1RxEmpty
			}
		case regInterrupt, regInterruptA, regInterruptB:
			h.regs[r] = 0
		}
		buf[i] = v
	}
	return nil
}

func (h *fakeHAL) WriteRegisters(reg uint8, data []byte) error {
	if h.failWith != nil {
		return h.failWith
	}
	if reg == regFIFOs {
		h.tx = append(h.tx, data...)
		return nil
	}
	for i, d := range data {
		h.regs[reg+uint8(i)] = d
	}
	return nil
}

func (h *fakeHAL) IsInterruptAsserted() (bool, error) {
	if h.failWith != nil {
		return false, h.failWith
	}
	return h.interrupt, nil
}

func (h *fakeHAL) Millis() uint32  { return h.now }
func (h *fakeHAL) Delay(ms uint32) { h.now += ms }

// queueFrame scripts one received frame: SOP token, header, payload and the
// four CRC bytes the driver discards.
func (h *fakeHAL) queueFrame(header pdmsg.Header, payload []byte) {
	h.rx = append(h.rx, 0xe0, uint8(header), uint8(header>>8))
	h.rx = append(h.rx, payload...)
	h.rx = append(h.rx, 0, 0, 0, 0) // CRC
}

// raiseRx asserts a CRC-check interrupt with a valid CRC status.
func (h *fakeHAL) raiseRx() {
	h.interrupt = true
	h.regs[regInterrupt] |= intCrcChk
	h.regs[regStatus0] |= status0CrcChk
}

// attach walks a fresh driver to the USBPDWait state with a source on CC2.
func attach(t *testing.T, h *fakeHAL, f *FUSB302) {
	t.Helper()
	require.NoError(t, f.Init())
	require.NoError(t, f.StartSink())
	require.Equal(t, pdsink.AttachStateUsb20, f.State())

	// No activity on CC1; measurement flips to CC2.
	h.now += 11
	require.NoError(t, f.Poll())
	require.Equal(t,
		uint8(switches0PdwnCC1|switches0PdwnCC2|switches0MeasCC2),
		h.regs[regSwitches0])

	// Activity on CC2.
	h.regs[regStatus0] |= 1 // BC_LVL
	h.now += 11
	require.NoError(t, f.Poll())
	require.Equal(t, pdsink.AttachStateUsbPdWait, f.State())
	require.Equal(t,
		uint8(switches1SpecRev20|switches1AutoCRC|switches1TxCC2),
		h.regs[regSwitches1])
}

// enterPd delivers a first message so the driver reaches USBPD.
func enterPd(t *testing.T, h *fakeHAL, f *FUSB302) {
	t.Helper()
	h.queueFrame(pdmsg.CreateData(pdmsg.TypeSourceCapabilities, 1, 2), []byte{0x2c, 0x91, 0x01, 0x08})
	h.raiseRx()
	require.NoError(t, f.Poll())
	h.interrupt = false
	require.Equal(t, pdsink.AttachStateUsbPd, f.State())
}

func TestAttachSequence(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)
	enterPd(t, h, f)

	// StateChanged precedes the message observed in the new state.
	e := f.PopEvent()
	require.Equal(t, pdsink.EventStateChanged, e.Kind)
	e = f.PopEvent()
	require.Equal(t, pdsink.EventMessageReceived, e.Kind)
	require.Equal(t, pdmsg.TypeSourceCapabilities, pdmsg.Header(e.Header).Type())
	require.Equal(t, []byte{0x2c, 0x91, 0x01, 0x08}, e.PayloadBytes())
	require.False(t, f.HasEvent())
}

func TestWaitTimeoutEntersRetryWait(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	// No message within 300ms.
	h.now += 301
	require.NoError(t, f.Poll())
	require.Equal(t, pdsink.AttachStateUsbRetryWait, f.State())
	e := f.PopEvent()
	require.Equal(t, pdsink.EventStateChanged, e.Kind)

	// 500ms later CC polling restarts.
	h.now += 501
	require.NoError(t, f.Poll())
	require.Equal(t, pdsink.AttachStateUsb20, f.State())
}

func TestHardResetRecovery(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)
	enterPd(t, h, f)
	for f.HasEvent() {
		f.PopEvent()
	}

	h.interrupt = true
	h.regs[regInterruptA] |= intAHardReset
	require.NoError(t, f.Poll())
	h.interrupt = false
	require.Equal(t, pdsink.AttachStateUsbRetryWait, f.State())
	require.Equal(t, pdsink.EventStateChanged, f.PopEvent().Kind)

	// After the retry wait the whole attach sequence runs again.
	h.now += 501
	h.regs[regStatus0] = 0
	require.NoError(t, f.Poll())
	require.Equal(t, pdsink.AttachStateUsb20, f.State())

	h.regs[regStatus0] |= 1
	h.now += 11
	require.NoError(t, f.Poll())
	require.Equal(t, pdsink.AttachStateUsbPdWait, f.State())

	enterPd(t, h, f)
}

func TestMessageIDWraparound(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	var payload [4]byte
	for i := 0; i < 64; i++ {
		h.tx = nil
		hdr := pdmsg.CreateData(pdmsg.TypeRequest, 1, 2)
		require.NoError(t, f.SendMessage(hdr, payload[:]))

		// SOP1 SOP1 SOP1 SOP2 PACKSYM hdr-lo hdr-hi payload... JAM EOP OFF ON
		require.Len(t, h.tx, 11+4)
		require.Equal(t, uint8(fifoTokenSync1), h.tx[0])
		require.Equal(t, uint8(fifoTokenSync2), h.tx[3])
		require.Equal(t, uint8(fifoTokenPackSym|6), h.tx[4])
		sent := pdmsg.Header(uint16(h.tx[5]) | uint16(h.tx[6])<<8)
		require.Equal(t, uint8(i%8), sent.MessageID())
		require.Equal(t, uint8(fifoTokenTxOn), h.tx[14])
	}
}

func TestInvalidCRCFrameIgnored(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	h.queueFrame(pdmsg.CreateControl(pdmsg.TypeAccept, 2), nil)
	h.interrupt = true
	h.regs[regInterrupt] |= intCrcChk
	h.regs[regStatus0] &^= status0CrcChk // CRC failed
	require.NoError(t, f.Poll())

	require.False(t, f.HasEvent())
	require.Equal(t, pdsink.AttachStateUsbPdWait, f.State())
}

func TestGoodCRCDiscarded(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	h.queueFrame(pdmsg.CreateControl(pdmsg.TypeGoodCRC, 2), nil)
	h.raiseRx()
	require.NoError(t, f.Poll())

	require.False(t, f.HasEvent())
	require.Equal(t, pdsink.AttachStateUsbPdWait, f.State())
}

func TestNonSOPFrameFlushesFIFO(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	h.rx = append(h.rx, 0x00, 0xaa, 0xbb)
	h.raiseRx()
	require.NoError(t, f.Poll())

	require.False(t, f.HasEvent())
	require.Equal(t, uint8(control1RxFlush), h.regs[regControl1])
}

func TestSendControl(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	require.NoError(t, f.SendControl(pdmsg.TypeSoftReset))
	require.Len(t, h.tx, 11)
	sent := pdmsg.Header(uint16(h.tx[5]) | uint16(h.tx[6])<<8)
	require.Equal(t, pdmsg.TypeSoftReset, sent.Type())
	require.Equal(t, 0, sent.NumDataObjects())
}

func TestSendMessagePayloadTooShort(t *testing.T) {
	f := New(&fakeHAL{})
	err := f.SendMessage(pdmsg.CreateData(pdmsg.TypeRequest, 1, 2), nil)
	require.ErrorIs(t, err, ErrPayloadTooShort)
}

func TestTransientBusError(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	busErr := errors.New("i2c nack")
	h.failWith = busErr
	require.ErrorIs(t, f.Poll(), busErr)
	require.Equal(t, pdsink.AttachStateUsbPdWait, f.State())

	// Next poll succeeds once the bus recovers.
	h.failWith = nil
	require.NoError(t, f.Poll())
	require.Equal(t, pdsink.AttachStateUsbPdWait, f.State())
}

func TestDeviceID(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	h.regs[regDeviceID] = 0x81 // version A, product FUSB302B__X, revision B
	id, err := f.DeviceID()
	require.NoError(t, err)
	require.Equal(t, "FUSB302B__X A_revB", id)
}

func TestEventQueueOverflow(t *testing.T) {
	h := &fakeHAL{}
	f := New(h)
	attach(t, h, f)

	// Seven messages in the FIFO; queue depth is six plus the state change,
	// so the last messages are dropped and the rest stay ordered.
	for i := 0; i < 7; i++ {
		h.queueFrame(pdmsg.CreateControl(pdmsg.TypeAccept, 2).WithMessageID(uint8(i)), nil)
	}
	h.raiseRx()
	require.NoError(t, f.Poll())

	require.Equal(t, pdsink.EventStateChanged, f.PopEvent().Kind)
	for i := 0; i < 5; i++ {
		e := f.PopEvent()
		require.Equal(t, pdsink.EventMessageReceived, e.Kind)
		require.Equal(t, uint8(i), pdmsg.Header(e.Header).MessageID())
	}
	require.False(t, f.HasEvent())
}
