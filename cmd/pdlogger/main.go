// Command pdlogger prints the capabilities advertised by a USB PD source
// through a FUSB302B, negotiating only the default 5V so the source does
// not reset.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/usbcdev/go-pdsink"
	"github.com/usbcdev/go-pdsink/fusb302"
	"github.com/usbcdev/go-pdsink/pdmsg"
	"github.com/usbcdev/go-pdsink/sink"
)

const fusb302Addr = 0x22

var (
	busName = flag.String("bus", "1", "I2C bus")
	intPin  = flag.String("int-pin", "GPIO4", "INT_N GPIO name")
)

// periphHAL adapts a periph I2C device and GPIO to the driver's hardware
// interface.
type periphHAL struct {
	dev   i2c.Dev
	intN  gpio.PinIO
	start time.Time
}

func (h *periphHAL) Init() error {
	return h.intN.In(gpio.PullUp, gpio.NoEdge)
}

func (h *periphHAL) InitIntN() error { return nil }

func (h *periphHAL) ReadRegisters(reg uint8, buf []byte) error {
	return h.dev.Tx([]byte{reg}, buf)
}

func (h *periphHAL) WriteRegisters(reg uint8, data []byte) error {
	w := make([]byte, 0, len(data)+1)
	w = append(w, reg)
	w = append(w, data...)
	return h.dev.Tx(w, nil)
}

func (h *periphHAL) IsInterruptAsserted() (bool, error) {
	return h.intN.Read() == gpio.Low, nil
}

func (h *periphHAL) Millis() uint32 {
	return uint32(time.Since(h.start).Milliseconds())
}

func (h *periphHAL) Delay(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	if _, err := host.Init(); err != nil {
		log.Fatalln(err)
	}
	bus, err := i2creg.Open(*busName)
	if err != nil {
		log.Fatalln(err)
	}
	defer bus.Close()
	if err := bus.SetSpeed(physic.MegaHertz); err != nil {
		log.Fatalln(err)
	}
	pin := gpioreg.ByName(*intPin)
	if pin == nil {
		log.Fatalf("no such GPIO: %s", *intPin)
	}

	hal := &periphHAL{dev: i2c.Dev{Bus: bus, Addr: fusb302Addr}, intN: pin, start: time.Now()}
	if err := hal.Init(); err != nil {
		log.Fatalln(err)
	}

	dev := fusb302.New(hal)
	var s *sink.Sink
	s = sink.New(dev, hal, pdsink.NotifierFunc(func(n pdsink.Notification) {
		switch n {
		case pdsink.NotifyProtocolChanged:
			fmt.Printf("protocol: %s\n", s.Protocol())
		case pdsink.NotifySourceCapsChanged:
			printCaps(s.SourceCapabilities())
			if _, err := s.RequestPower(5000, 0); err != nil {
				log.Printf("request: %v", err)
			}
		case pdsink.NotifyPowerReady:
			fmt.Printf("power: %dmV %dmA\n", s.ActiveVoltage(), s.ActiveMaxCurrent())
		}
	}))

	if err := s.Init(); err != nil {
		log.Fatalln(err)
	}
	if id, err := dev.DeviceID(); err == nil {
		fmt.Printf("device: %s\n", id)
	}

	for range time.Tick(time.Millisecond) {
		if err := s.Poll(); err != nil {
			log.Printf("poll: %v", err)
		}
	}
}

func printCaps(caps []pdmsg.Capability) {
	w := os.Stdout
	fmt.Fprintf(w, "received %d capabilities:\n", len(caps))
	for _, c := range caps {
		fmt.Fprintf(w, "  %d) ", c.ObjPos)
		switch c.SupplyType {
		case pdmsg.SupplyFixed:
			fmt.Fprintf(w, "Fixed %.1fV @ max %.1fA", float32(c.Voltage)/1000, float32(c.MaxCurrent)/1000)
			if c.Unconstrained {
				fmt.Fprint(w, " (unconstrained)")
			}
		case pdmsg.SupplyVariable:
			fmt.Fprintf(w, "Variable %.1f-%.1fV @ max %.1fA",
				float32(c.MinVoltage)/1000, float32(c.Voltage)/1000, float32(c.MaxCurrent)/1000)
		case pdmsg.SupplyPPS:
			fmt.Fprintf(w, "Programmable %.1f-%.1fV @ max %.1fA",
				float32(c.MinVoltage)/1000, float32(c.Voltage)/1000, float32(c.MaxCurrent)/1000)
		case pdmsg.SupplyBattery:
			fmt.Fprint(w, "Battery (not supported)")
		}
		fmt.Fprintln(w)
	}
}
