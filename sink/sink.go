// Package sink implements the USB Power Delivery policy engine for a sink
// device on top of a port controller driver.
//
// The sink tracks the source's advertised capabilities and the state of the
// power contract. The application requests a voltage with RequestPower and
// observes the negotiation through notifications delivered from Poll.
package sink

import (
	"encoding/binary"
	"log"

	"github.com/usbcdev/go-pdsink"
	"github.com/usbcdev/go-pdsink/pdmsg"
)

const (
	// Defaults in effect without a USB PD contract.
	defaultVoltage    = 5000 // mV
	defaultMaxCurrent = 900  // mA

	// A programmable supply reverts to 5V when not re-requested within 10
	// seconds, so an active PPS contract is refreshed every 8.
	ppsRequestInterval = 8000 // ms

	// Smallest current a programmable capability can be asked for.
	minPPSCurrent = 25 // mA
)

// Sink is the policy engine. It owns the contract state and must be polled
// at least every millisecond while PD traffic may be occurring.
type Sink struct {
	ctrl     pdsink.Controller
	clock    pdsink.Clock
	notifier pdsink.Notifier
	log      *log.Logger

	protocol pdsink.Protocol
	specRev  int

	sourceCaps    [pdmsg.MaxDataObjects]pdmsg.Capability
	numSourceCaps int
	unconstrained bool
	extMessage    bool

	activeVoltage       int
	activeMaxCurrent    int
	requestedVoltage    int
	requestedMaxCurrent int

	// Index into sourceCaps of the active programmable capability, -1 when
	// the contract is not PPS.
	selectedPPSIndex int
	nextPPSRequest   uint32
}

// New creates a sink policy engine over the given port controller. The
// notifier receives negotiation events from inside Poll; it may be nil.
func New(ctrl pdsink.Controller, clock pdsink.Clock, notifier pdsink.Notifier) *Sink {
	return &Sink{
		ctrl:             ctrl,
		clock:            clock,
		notifier:         notifier,
		specRev:          2,
		activeVoltage:    defaultVoltage,
		activeMaxCurrent: defaultMaxCurrent,
		selectedPPSIndex: -1,
	}
}

// SetLogger sets the logger for debug output. Pass nil to disable.
func (s *Sink) SetLogger(l *log.Logger) { s.log = l }

func (s *Sink) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// Init initializes the port controller and starts listening for USB PD
// messages.
func (s *Sink) Init() error {
	if err := s.ctrl.Init(); err != nil {
		return err
	}
	if err := s.ctrl.StartSink(); err != nil {
		return err
	}
	s.updateProtocol()
	return nil
}

// Poll drives the port controller once and drains all pending events,
// invoking the notifier as the contract state changes. It also refreshes an
// active PPS contract when due.
func (s *Sink) Poll() error {
	if err := s.ctrl.Poll(); err != nil {
		return err
	}

	for s.ctrl.HasEvent() {
		e := s.ctrl.PopEvent()
		switch e.Kind {
		case pdsink.EventStateChanged:
			if s.updateProtocol() {
				s.notify(pdsink.NotifyProtocolChanged)
			}
		case pdsink.EventMessageReceived:
			s.handleMessage(pdmsg.Header(e.Header), e.PayloadBytes())
		}
	}

	// PPS keep-alive: re-request the active programmable contract when no
	// request is outstanding and the refresh interval has elapsed.
	if s.selectedPPSIndex >= 0 && s.requestedVoltage == 0 &&
		pdsink.HasExpired(s.clock.Millis(), s.nextPPSRequest) {
		_, err := s.RequestPowerFromCapability(s.selectedPPSIndex,
			s.activeVoltage, s.activeMaxCurrent)
		return err
	}
	return nil
}

// Protocol returns the active power delivery protocol.
func (s *Sink) Protocol() pdsink.Protocol { return s.protocol }

// ActiveVoltage returns the voltage of the active contract in mV.
func (s *Sink) ActiveVoltage() int { return s.activeVoltage }

// ActiveMaxCurrent returns the maximum current of the active contract in
// mA.
func (s *Sink) ActiveMaxCurrent() int { return s.activeMaxCurrent }

// RequestedVoltage returns the requested voltage in mV. It is non-zero only
// between a request and the matching PS_Ready or Reject.
func (s *Sink) RequestedVoltage() int { return s.requestedVoltage }

// RequestedMaxCurrent returns the requested maximum current in mA.
func (s *Sink) RequestedMaxCurrent() int { return s.requestedMaxCurrent }

// SourceCapabilities returns the capabilities advertised by the source. The
// returned slice is valid until the next Poll.
func (s *Sink) SourceCapabilities() []pdmsg.Capability {
	return s.sourceCaps[:s.numSourceCaps]
}

// IsUnconstrained reports whether the source can deliver unconstrained
// power (e.g. a wall wart).
func (s *Sink) IsUnconstrained() bool { return s.unconstrained }

// SupportsExtMessage reports whether the source supports extended messages.
func (s *Sink) SupportsExtMessage() bool { return s.extMessage }

func (s *Sink) notify(n pdsink.Notification) {
	if s.notifier != nil {
		s.notifier.Notify(n)
	}
}

// updateProtocol derives the protocol from the driver's attachment state
// and reports whether it changed. Without USB PD the contract reverts to
// the 5V default.
func (s *Sink) updateProtocol() bool {
	old := s.protocol
	if s.ctrl.State() == pdsink.AttachStateUsbPd {
		s.protocol = pdsink.ProtocolUsbPd
	} else {
		s.protocol = pdsink.ProtocolUsb20
		s.activeVoltage = defaultVoltage
		s.activeMaxCurrent = defaultMaxCurrent
		s.requestedVoltage = 0
		s.requestedMaxCurrent = 0
		s.numSourceCaps = 0
		s.selectedPPSIndex = -1
	}
	return s.protocol != old
}

func (s *Sink) handleMessage(h pdmsg.Header, payload []byte) {
	s.specRev = h.SpecRev()

	switch h.Type() {
	case pdmsg.TypeSourceCapabilities:
		s.handleSourceCaps(h, payload)
	case pdmsg.TypeAccept:
		s.notify(pdsink.NotifyPowerAccepted)
	case pdmsg.TypeReject, pdmsg.TypeWait:
		s.requestedVoltage = 0
		s.requestedMaxCurrent = 0
		s.selectedPPSIndex = -1
		s.notify(pdsink.NotifyPowerRejected)
	case pdmsg.TypePSReady:
		s.activeVoltage = s.requestedVoltage
		s.activeMaxCurrent = s.requestedMaxCurrent
		s.requestedVoltage = 0
		s.requestedMaxCurrent = 0
		s.notify(pdsink.NotifyPowerReady)
	}
}

func (s *Sink) handleSourceCaps(h pdmsg.Header, payload []byte) {
	s.numSourceCaps = 0
	s.unconstrained = false
	s.extMessage = false

	n := h.NumDataObjects()
	for objPos := 1; objPos <= n && len(payload) >= 4; objPos++ {
		pdo := binary.LittleEndian.Uint32(payload)
		payload = payload[4:]

		c, ok := pdmsg.ParseCapability(objPos, pdo)
		if !ok {
			continue
		}
		if c.SupplyType == pdmsg.SupplyFixed && c.Voltage == 5000 {
			s.unconstrained = c.Unconstrained
			s.extMessage = c.ExtMessage
		}
		if s.numSourceCaps < len(s.sourceCaps) {
			s.sourceCaps[s.numSourceCaps] = c
			s.numSourceCaps++
		}
	}

	s.notify(pdsink.NotifySourceCapsChanged)
}

// RequestPower requests the given voltage (mV) from the source. maxCurrent
// (mA) is the highest current the sink will draw; zero means the maximum
// the source can provide at the selected capability.
//
// Fixed capabilities are preferred; a programmable capability covering the
// voltage is used otherwise. The source responds with Accept and PS_Ready,
// or Reject, each delivered as a notification.
//
// RequestPower returns the 1-based object position of the selected
// capability, or -1 with ErrNoMatchingCapability if the source has not
// advertised a matching voltage.
func (s *Sink) RequestPower(voltage, maxCurrent int) (int, error) {
	for i := 0; i < s.numSourceCaps; i++ {
		c := &s.sourceCaps[i]
		if c.SupplyType == pdmsg.SupplyFixed &&
			voltage >= int(c.MinVoltage) && voltage <= int(c.Voltage) {
			return s.RequestPowerFromCapability(i, voltage, maxCurrent)
		}
	}
	for i := 0; i < s.numSourceCaps; i++ {
		c := &s.sourceCaps[i]
		if c.SupplyType == pdmsg.SupplyPPS &&
			voltage >= int(c.MinVoltage) && voltage <= int(c.Voltage) &&
			(maxCurrent == 0 || (maxCurrent >= minPPSCurrent && maxCurrent <= int(c.MaxCurrent))) {
			return s.RequestPowerFromCapability(i, voltage, maxCurrent)
		}
	}
	s.logf("unsupported voltage requested: %dmV", voltage)
	return -1, pdsink.ErrNoMatchingCapability
}

// RequestPowerFromCapability requests the given voltage and current from
// the source capability at the given index (into SourceCapabilities). It
// returns the capability's 1-based object position, or -1 with an error if
// the index or voltage is out of range for the capability, if the current
// is out of range for a programmable capability, or if sending fails. The
// current for a fixed capability is not checked against its maximum.
func (s *Sink) RequestPowerFromCapability(index, voltage, maxCurrent int) (int, error) {
	if index < 0 || index >= s.numSourceCaps {
		return -1, pdsink.ErrInvalidArgument
	}
	c := &s.sourceCaps[index]

	var rdo pdmsg.RequestDO
	switch c.SupplyType {
	case pdmsg.SupplyFixed:
		if voltage < int(c.MinVoltage) || voltage > int(c.Voltage) {
			return -1, pdsink.ErrInvalidArgument
		}
		if maxCurrent == 0 {
			maxCurrent = int(c.MaxCurrent)
		}
		rdo = pdmsg.FixedRequest(int(c.ObjPos), maxCurrent)

	case pdmsg.SupplyPPS:
		if voltage < int(c.MinVoltage) || voltage > int(c.Voltage) {
			return -1, pdsink.ErrInvalidArgument
		}
		if maxCurrent == 0 {
			maxCurrent = int(c.MaxCurrent)
		} else if maxCurrent < minPPSCurrent || maxCurrent > int(c.MaxCurrent) {
			return -1, pdsink.ErrInvalidArgument
		}
		rdo = pdmsg.PPSRequest(int(c.ObjPos), voltage, maxCurrent)

	default:
		// Battery and variable capabilities are not requested by this sink.
		return -1, pdsink.ErrInvalidArgument
	}

	var payload [4]byte
	rdo.ToBytes(payload[:])
	header := pdmsg.CreateData(pdmsg.TypeRequest, 1, s.specRev)
	if err := s.ctrl.SendMessage(header, payload[:]); err != nil {
		return -1, err
	}

	s.requestedVoltage = voltage
	s.requestedMaxCurrent = maxCurrent
	if c.SupplyType == pdmsg.SupplyPPS {
		s.selectedPPSIndex = index
		s.nextPPSRequest = s.clock.Millis() + ppsRequestInterval
	} else {
		s.selectedPPSIndex = -1
	}
	return int(c.ObjPos), nil
}
