package fusb302

// FUSB302B register addresses.
const (
	regDeviceID   = 0x01
	regSwitches0  = 0x02
	regSwitches1  = 0x03
	regMeasure    = 0x04
	regSlice      = 0x05
	regControl0   = 0x06
	regControl1   = 0x07
	regControl2   = 0x08
	regControl3   = 0x09
	regMask       = 0x0a
	regPower      = 0x0b
	regReset      = 0x0c
	regOCPreg     = 0x0d
	regMaskA      = 0x0e
	regMaskB      = 0x0f
	regControl4   = 0x10
	regStatus0A   = 0x3c
	regStatus1A   = 0x3d
	regInterruptA = 0x3e
	regInterruptB = 0x3f
	regStatus0    = 0x40
	regStatus1    = 0x41
	regInterrupt  = 0x42
	regFIFOs      = 0x43
)

// SWITCHES0 bits.
const (
	switches0PuEn2    = 1 << 7
	switches0PuEn1    = 1 << 6
	switches0VconnCC2 = 1 << 5
	switches0VconnCC1 = 1 << 4
	switches0MeasCC2  = 1 << 3
	switches0MeasCC1  = 1 << 2
	switches0PdwnCC2  = 1 << 1
	switches0PdwnCC1  = 1 << 0
)

// SWITCHES1 bits.
const (
	switches1PowerRole  = 1 << 7
	switches1SpecRev20  = 1 << 5
	switches1SpecRevMsk = 3 << 5
	switches1DataRole   = 1 << 4
	switches1AutoCRC    = 1 << 2
	switches1TxCC2      = 1 << 1
	switches1TxCC1      = 1 << 0
)

// SLICE bits.
const (
	sliceSDACHys255mV = 3 << 6
	sliceSDACHys170mV = 2 << 6
	sliceSDACHys085mV = 1 << 6
	sliceSDACMask     = 0x3f
)

// CONTROL0 bits.
const (
	control0TxFlush = 1 << 6
	control0IntMask = 1 << 5
	control0TxStart = 1 << 0
)

// CONTROL1 bits.
const (
	control1EnSOP2DB = 1 << 6
	control1EnSOP1DB = 1 << 5
	control1RxFlush  = 1 << 2
)

// CONTROL3 bits.
const (
	control3SendHardReset = 3 << 6
	control3AutoHardReset = 1 << 4
	control3AutoSoftReset = 1 << 3
	control3ThreeRetries  = 3 << 1
	control3AutoRetry     = 1 << 0
)

// MASK bits.
const (
	maskAll      = 0xff
	maskVbusOK   = 1 << 7
	maskActivity = 1 << 6
	maskCompChng = 1 << 5
	maskCrcChk   = 1 << 4
)

// POWER bits.
const (
	powerAll      = 0x0f
	powerIntOsc   = 1 << 3
	powerReceiver = 1 << 2
	powerMeasure  = 1 << 1
	powerBandgap  = 1 << 0
)

// RESET bits.
const (
	resetPDReset = 1 << 1
	resetSWReset = 1 << 0
)

// MASKA and MASKB.
const (
	maskAAll  = 0xff
	maskANone = 0x00
	maskBAll  = 0x01
	maskBNone = 0x00
)

// INTERRUPTA bits.
const (
	intAOCPTemp   = 1 << 7
	intATogDone   = 1 << 6
	intASoftFail  = 1 << 5
	intARetryFail = 1 << 4
	intAHardSent  = 1 << 3
	intATxSent    = 1 << 2
	intASoftReset = 1 << 1
	intAHardReset = 1 << 0
)

// INTERRUPTB bits.
const intBGCRCSent = 1 << 0

// STATUS0 bits.
const (
	status0VbusOK    = 1 << 7
	status0Activity  = 1 << 6
	status0Comp      = 1 << 5
	status0CrcChk    = 1 << 4
	status0BCLvlMask = 0x03
)

// STATUS1 bits.
const (
	status1RxEmpty = 1 << 5
	status1RxFull  = 1 << 4
	status1TxEmpty = 1 << 3
	status1TxFull  = 1 << 2
)

// INTERRUPT bits.
const (
	intVbusOK   = 1 << 7
	intActivity = 1 << 6
	intCompChng = 1 << 5
	intCrcChk   = 1 << 4
	intBCLvl    = 1 << 0
)

// TX/RX FIFO tokens.
const (
	fifoTokenTxOn    = 0xa1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xff
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xfe
)
