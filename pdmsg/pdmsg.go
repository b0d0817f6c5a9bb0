// Package pdmsg encodes and decodes USB Power Delivery message headers,
// power data objects and request data objects.
//
// Decoding of extended messages is not supported.
package pdmsg

const (
	// MaxDataObjects is the maximum number of data objects in a message, as
	// set by the standard.
	MaxDataObjects = 7

	// MaxMessageBytes is the maximum number of bytes in a message: 2 bytes
	// of header plus 7 data objects of 32 bits each.
	MaxMessageBytes = 2 + 4*MaxDataObjects
)

// MessageType identifies a USB PD message. Control and data messages share
// the low 5 bits of their wire encoding; the tag disambiguates them by
// setting bit 7 for data messages, so control messages are 0x01..0x1f and
// data messages 0x81..0x8f.
type MessageType uint8

// Control message types.
const (
	TypeGoodCRC              MessageType = 0x01
	TypeGotoMin              MessageType = 0x02
	TypeAccept               MessageType = 0x03
	TypeReject               MessageType = 0x04
	TypePing                 MessageType = 0x05
	TypePSReady              MessageType = 0x06
	TypeGetSourceCap         MessageType = 0x07
	TypeGetSinkCap           MessageType = 0x08
	TypeDRSwap               MessageType = 0x09
	TypePRSwap               MessageType = 0x0a
	TypeVconnSwap            MessageType = 0x0b
	TypeWait                 MessageType = 0x0c
	TypeSoftReset            MessageType = 0x0d
	TypeDataReset            MessageType = 0x0e
	TypeDataResetComplete    MessageType = 0x0f
	TypeNotSupported         MessageType = 0x10
	TypeGetSourceCapExtended MessageType = 0x11
	TypeGetStatus            MessageType = 0x12
	TypeFRSwap               MessageType = 0x13
	TypeGetPPSStatus         MessageType = 0x14
	TypeGetCountryCodes      MessageType = 0x15
	TypeGetSinkCapExtended   MessageType = 0x16
)

// Data message types.
const (
	TypeSourceCapabilities MessageType = 0x81
	TypeRequest            MessageType = 0x82
	TypeBIST               MessageType = 0x83
	TypeSinkCapabilities   MessageType = 0x84
	TypeBatteryStatus      MessageType = 0x85
	TypeAlert              MessageType = 0x86
	TypeGetCountryInfo     MessageType = 0x87
	TypeEnterUSB           MessageType = 0x88
	TypeVendorDefined      MessageType = 0x8f
)

// IsData returns true if t is a data message type.
func (t MessageType) IsData() bool {
	return t&0x80 != 0
}

func (t MessageType) String() string {
	switch t {
	case TypeGoodCRC:
		return "GoodCRC"
	case TypeAccept:
		return "Accept"
	case TypeReject:
		return "Reject"
	case TypePSReady:
		return "PSReady"
	case TypeGetSinkCap:
		return "GetSinkCap"
	case TypeWait:
		return "Wait"
	case TypeSoftReset:
		return "SoftReset"
	case TypeSourceCapabilities:
		return "SourceCapabilities"
	case TypeRequest:
		return "Request"
	default:
		if t.IsData() {
			return "Data" + hexByte(uint8(t)&0x1f)
		}
		return "Ctrl" + hexByte(uint8(t))
	}
}

func hexByte(b uint8) string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{digits[b>>4], digits[b&0xf]})
}

// Header is a 16-bit USB PD message header (little-endian on the wire).
type Header uint16

// CreateControl returns a header for a control message of the given type.
// rev is the spec revision (1 to 3).
func CreateControl(t MessageType, rev int) Header {
	return Header(uint16(t)&0x1f | uint16(rev-1)<<6)
}

// CreateData returns a header for a data message of the given type with
// numDataObjs data objects. rev is the spec revision (1 to 3).
func CreateData(t MessageType, numDataObjs, rev int) Header {
	return Header(uint16(numDataObjs&0x07)<<12 | uint16(t)&0x1f | uint16(rev-1)<<6)
}

// Type returns the message type. Control and data messages are told apart
// by the number of data objects.
func (h Header) Type() MessageType {
	t := MessageType(h & 0x1f)
	if h.NumDataObjects() != 0 {
		t |= 0x80
	}
	return t
}

// NumDataObjects returns the number of 32-bit data objects in the message.
// Zero means a control message.
func (h Header) NumDataObjects() int {
	return int(h>>12) & 0x07
}

// MessageID returns the message ID.
func (h Header) MessageID() uint8 {
	return uint8(h>>9) & 0x07
}

// WithMessageID returns a copy of the header with the message ID set.
func (h Header) WithMessageID(id uint8) Header {
	return h&^(0x07<<9) | Header(id&0x07)<<9
}

// SpecRev returns the spec revision of the message (1 to 3).
func (h Header) SpecRev() int {
	return int(h>>6)&0x03 + 1
}

// IsExtended returns true if the extended flag is set.
func (h Header) IsExtended() bool {
	return h&0x8000 != 0
}

// SupplyType is the power supply type advertised in a power data object.
type SupplyType uint8

const (
	// SupplyFixed is a fixed supply (Vmin = Vmax).
	SupplyFixed SupplyType = 0
	// SupplyBattery is a battery.
	SupplyBattery SupplyType = 1
	// SupplyVariable is a variable, non-battery supply.
	SupplyVariable SupplyType = 2
	// SupplyPPS is a programmable power supply.
	SupplyPPS SupplyType = 3
)

func (t SupplyType) String() string {
	switch t {
	case SupplyFixed:
		return "Fixed"
	case SupplyBattery:
		return "Battery"
	case SupplyVariable:
		return "Variable"
	case SupplyPPS:
		return "PPS"
	default:
		return "INVALID"
	}
}

// Capability is one decoded power data object from a Source_Capabilities
// message.
type Capability struct {
	// SupplyType is the supply type of the capability.
	SupplyType SupplyType

	// ObjPos is the 1-based position of the data object within the message.
	// It is echoed verbatim in a request.
	ObjPos uint8

	// MaxCurrent is the maximum current in mA.
	MaxCurrent uint16

	// Voltage is the voltage in mV. For variable and programmable supplies
	// it is the maximum voltage.
	Voltage uint16

	// MinVoltage is the minimum voltage in mV. Equal to Voltage for fixed
	// supplies.
	MinVoltage uint16

	// Unconstrained indicates the source can deliver unconstrained power
	// (e.g. a wall wart). Only set on the fixed 5V object.
	Unconstrained bool

	// ExtMessage indicates the source supports extended messages. Only set
	// on the fixed 5V object.
	ExtMessage bool
}

// ParseCapability decodes a 32-bit power data object. objPos is the 1-based
// position of the object within the message. It returns false for objects
// this sink cannot use, such as augmented PDOs other than PPS.
func ParseCapability(objPos int, pdo uint32) (Capability, bool) {
	c := Capability{
		SupplyType: SupplyType(pdo >> 30),
		ObjPos:     uint8(objPos),
		MaxCurrent: uint16(pdo&0x3ff) * 10,
		MinVoltage: uint16(pdo>>10&0x3ff) * 50,
		Voltage:    uint16(pdo>>20&0x3ff) * 50,
	}

	switch c.SupplyType {
	case SupplyFixed:
		c.Voltage = c.MinVoltage

		// The fixed 5V capability carries additional flags.
		if c.Voltage == 5000 {
			c.Unconstrained = pdo&(1<<27) != 0
			c.ExtMessage = pdo&(1<<24) != 0
		}

	case SupplyPPS:
		// Only the PPS subtype of augmented PDOs is understood.
		if pdo&(3<<28) != 0 {
			return Capability{}, false
		}
		c.MaxCurrent = uint16(pdo&0x7f) * 50
		c.MinVoltage = uint16(pdo>>8&0xff) * 100
		c.Voltage = uint16(pdo>>17&0xff) * 100
	}

	return c, true
}

// RequestDO is a 32-bit request data object sent by the sink.
type RequestDO uint32

const (
	rdoNoUsbSuspend   = 1 << 24
	rdoUsbCommCapable = 1 << 25
)

// FixedRequest returns a request data object for a fixed supply capability
// at the given 1-based object position. The current (in mA) is rounded to
// the nearest 10mA and used as both operating and maximum operating
// current. The no-USB-suspend and USB-communication-capable flags are set.
func FixedRequest(objPos int, currentMA int) RequestDO {
	units := uint32((currentMA + 5) / 10)
	if units > 0x3ff {
		units = 0x3ff
	}
	return RequestDO(units | units<<10 | rdoNoUsbSuspend | rdoUsbCommCapable |
		uint32(objPos&0x07)<<28)
}

// PPSRequest returns a request data object for a programmable supply
// capability at the given 1-based object position, requesting the given
// output voltage (in mV, 20mV resolution) and operating current (in mA,
// 50mA resolution).
func PPSRequest(objPos int, voltageMV, currentMA int) RequestDO {
	return RequestDO(uint32(currentMA/50)&0x7f | uint32(voltageMV/20)&0xfff<<8 |
		rdoNoUsbSuspend | rdoUsbCommCapable | uint32(objPos&0x07)<<28)
}

// ObjectPosition returns the 1-based object position of the request.
func (o RequestDO) ObjectPosition() uint8 {
	return uint8(o>>28) & 0x07
}

// OperatingCurrent returns the operating current in mA for fixed requests.
func (o RequestDO) OperatingCurrent() uint16 {
	return uint16(o&0x3ff) * 10
}

// MaxOperatingCurrent returns the maximum operating current in mA for fixed
// requests.
func (o RequestDO) MaxOperatingCurrent() uint16 {
	return uint16(o>>10&0x3ff) * 10
}

// PPSVoltage returns the requested output voltage in mV for programmable
// requests.
func (o RequestDO) PPSVoltage() uint16 {
	return uint16(o>>8&0xfff) * 20
}

// PPSCurrent returns the requested operating current in mA for programmable
// requests.
func (o RequestDO) PPSCurrent() uint16 {
	return uint16(o&0x7f) * 50
}

// NoUsbSuspend returns the state of the no-USB-suspend flag.
func (o RequestDO) NoUsbSuspend() bool {
	return o&rdoNoUsbSuspend != 0
}

// UsbCommCapable returns the state of the USB-communication-capable flag.
func (o RequestDO) UsbCommCapable() bool {
	return o&rdoUsbCommCapable != 0
}

// ToBytes serializes the request data object in little-endian order into b,
// which must be at least 4 bytes long.
func (o RequestDO) ToBytes(b []byte) {
	b[0] = byte(o)
	b[1] = byte(o >> 8)
	b[2] = byte(o >> 16)
	b[3] = byte(o >> 24)
}
