// Package pdsink defines the shared types and interfaces for a USB Power
// Delivery sink stack built around the FUSB302B port controller.
//
// The stack is polled: the application calls the sink's Poll at least every
// millisecond, the sink polls the driver, and the driver reads the chip's
// interrupt registers. No goroutines are started and no locks are taken on
// the polling path, so the stack is suitable for TinyGo targets as well as
// regular hosts.
package pdsink

import (
	"errors"

	"github.com/usbcdev/go-pdsink/pdmsg"
)

// AttachState is the attachment state tracked by the port controller driver.
type AttachState uint8

const (
	// AttachStateUsb20 means no USB PD communication has been established;
	// the driver is measuring CC1 and CC2 for activity.
	AttachStateUsb20 AttachState = iota

	// AttachStateUsbPdWait means activity has been detected on a CC line and
	// the driver is waiting for the first USB PD message.
	AttachStateUsbPdWait

	// AttachStateUsbPd means USB PD communication is established.
	AttachStateUsbPd

	// AttachStateUsbRetryWait means the driver has been reset (hard reset or
	// communication timeout) and is waiting before measuring CC again.
	AttachStateUsbRetryWait
)

func (s AttachState) String() string {
	switch s {
	case AttachStateUsb20:
		return "USB20"
	case AttachStateUsbPdWait:
		return "USBPDWait"
	case AttachStateUsbPd:
		return "USBPD"
	case AttachStateUsbRetryWait:
		return "USBRetryWait"
	default:
		return "INVALID"
	}
}

// Protocol is the power delivery protocol currently in use.
type Protocol uint8

const (
	// ProtocolUsb20 means no USB PD communication (5V only).
	ProtocolUsb20 Protocol = iota
	// ProtocolUsbPd means USB PD communication is established.
	ProtocolUsbPd
)

func (p Protocol) String() string {
	switch p {
	case ProtocolUsb20:
		return "USB20"
	case ProtocolUsbPd:
		return "USBPD"
	default:
		return "INVALID"
	}
}

// Notification is delivered to the application by the sink's Poll.
type Notification uint8

const (
	// NotifyProtocolChanged is delivered when the power delivery protocol has
	// changed.
	NotifyProtocolChanged Notification = iota
	// NotifySourceCapsChanged is delivered when the source has advertised its
	// capabilities. The application should request power immediately; sources
	// allow roughly 30ms for the request before they reset.
	NotifySourceCapsChanged
	// NotifyPowerAccepted is delivered when the source has accepted the
	// requested power (the power is not ready yet).
	NotifyPowerAccepted
	// NotifyPowerRejected is delivered when the source has rejected the
	// requested power.
	NotifyPowerRejected
	// NotifyPowerReady is delivered when the requested power is available.
	NotifyPowerReady
)

func (n Notification) String() string {
	switch n {
	case NotifyProtocolChanged:
		return "ProtocolChanged"
	case NotifySourceCapsChanged:
		return "SourceCapsChanged"
	case NotifyPowerAccepted:
		return "PowerAccepted"
	case NotifyPowerRejected:
		return "PowerRejected"
	case NotifyPowerReady:
		return "PowerReady"
	default:
		return "INVALID"
	}
}

// Notifier receives sink notifications. Notify is called from inside the
// sink's Poll and may call back into the sink synchronously (for instance to
// request power). It must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc is an adapter to allow the use of ordinary functions as
// Notifier.
type NotifierFunc func(Notification)

// Notify implements the Notifier interface.
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Controller is the interface the sink policy engine requires from a port
// controller driver. It is implemented by fusb302.FUSB302.
type Controller interface {
	// Init brings the controller to a known initial state without starting
	// it. It may be called again at any time to reset the controller.
	Init() error

	// StartSink starts monitoring CC1 and CC2 for a source. Once a source
	// has connected, the appropriate CC line is configured for USB PD
	// communication.
	StartSink() error

	// Poll checks the interrupt line and driver timeouts once. After a call
	// to Poll, new events may be available.
	Poll() error

	// State returns the current attachment state.
	State() AttachState

	// HasEvent reports whether an event is waiting.
	HasEvent() bool

	// PopEvent removes and returns the oldest pending event.
	PopEvent() Event

	// SendMessage transmits a message with the given header and payload. The
	// message ID is stamped into the header by the driver.
	SendMessage(header pdmsg.Header, payload []byte) error

	// SendControl transmits a control message without payload.
	SendControl(t pdmsg.MessageType) error
}

// Clock provides the millisecond time base used by the policy engine. It is
// a subset of HAL.
type Clock interface {
	// Millis returns the number of milliseconds since a fixed time in the
	// past. It wraps around.
	Millis() uint32
}

// HasExpired reports whether the deadline has been reached at the given
// time. Both values are wrapping millisecond timestamps; the comparison is
// valid as long as they are less than 2^27 ms (about 37 hours) apart.
func HasExpired(now, deadline uint32) bool {
	return now-deadline < 1<<27
}

var (
	// ErrNoMatchingCapability is returned by the sink's request methods when
	// the source has not advertised a capability matching the requested
	// voltage and current.
	ErrNoMatchingCapability = errors.New("no matching source capability")

	// ErrInvalidArgument is returned by the sink's request methods when the
	// capability index, voltage or current is out of range.
	ErrInvalidArgument = errors.New("invalid request argument")
)
