package pdsink

// MaxPayloadBytes is the largest message payload a sink can receive: seven
// 32-bit data objects.
const MaxPayloadBytes = 28

// EventKind discriminates driver events.
type EventKind uint8

const (
	// EventNone is the zero event, returned when the queue is empty.
	EventNone EventKind = iota
	// EventStateChanged signals a change of the driver's attachment state.
	// It carries no payload; the new state is read from the driver.
	EventStateChanged
	// EventMessageReceived carries a received USB PD message.
	EventMessageReceived
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "None"
	case EventStateChanged:
		return "StateChanged"
	case EventMessageReceived:
		return "MessageReceived"
	default:
		return "INVALID"
	}
}

// Event is delivered from the port controller driver to the policy engine.
// The payload is copied into the event, so an event stays valid for as long
// as the consumer holds it.
type Event struct {
	Kind EventKind

	// Header is the message header. Valid for EventMessageReceived.
	Header uint16

	// Payload holds the message data objects. Valid for
	// EventMessageReceived.
	Payload [MaxPayloadBytes]byte

	// PayloadLen is the number of valid bytes in Payload.
	PayloadLen uint8
}

// StateChangedEvent returns a state-changed event.
func StateChangedEvent() Event {
	return Event{Kind: EventStateChanged}
}

// MessageEvent returns a message-received event with a copy of the payload.
// Payload bytes beyond MaxPayloadBytes are dropped.
func MessageEvent(header uint16, payload []byte) Event {
	e := Event{Kind: EventMessageReceived, Header: header}
	e.PayloadLen = uint8(copy(e.Payload[:], payload))
	return e
}

// PayloadBytes returns the valid part of the payload.
func (e *Event) PayloadBytes() []byte {
	return e.Payload[:e.PayloadLen]
}
