// Command pdsink negotiates a USB PD voltage through a FUSB302B connected
// to an I2C bus and keeps the contract alive.
//
// The desired mode is read from the persistent store, the config file or
// the -mode flag: 0 requests the first advertised capability, 9/12/15/20 a
// specific voltage in volts, and 100 the source's maximum up to 20V. With
// -save the given mode is stored for later runs before negotiation starts.
package main

import (
	"flag"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/usbcdev/go-pdsink"
	"github.com/usbcdev/go-pdsink/fusb302"
	"github.com/usbcdev/go-pdsink/nvstore"
	"github.com/usbcdev/go-pdsink/sink"
)

// fusb302Addr is the fixed I2C address of the FUSB302B.
const fusb302Addr = 0x22

// modeKey is the store key holding the configured mode.
const modeKey = 0

var (
	configPath = flag.String("config", "pdsink.yaml", "config file path")
	busName    = flag.String("bus", "", "I2C bus (overrides config)")
	intPin     = flag.String("int-pin", "", "INT_N GPIO name (overrides config)")
	storePath  = flag.String("store", "", "settings store path (overrides config)")
	mode       = flag.Int("mode", -1, "voltage mode (overrides config and store)")
	save       = flag.Bool("save", false, "persist the given -mode and continue")
	verbose    = flag.Bool("v", false, "log driver debug output")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if *busName != "" {
		cfg.Bus = *busName
	}
	if *intPin != "" {
		cfg.IntPin = *intPin
	}
	if *storePath != "" {
		cfg.Store = *storePath
	}

	flash, err := nvstore.OpenFileFlash(cfg.Store, 1024)
	if err != nil {
		log.Fatalln(err)
	}
	store, err := nvstore.Open(flash, 1)
	if err != nil {
		log.Fatalln(err)
	}

	switch {
	case *mode >= 0:
		cfg.Mode = *mode
	default:
		if v, ok := store.Get(modeKey); ok {
			cfg.Mode = int(v)
		}
	}
	if err := validateMode(cfg.Mode); err != nil {
		log.Fatalln(err)
	}
	if *save {
		if err := store.Put(modeKey, uint16(cfg.Mode)); err != nil {
			log.Fatalln(err)
		}
		log.Printf("saved mode %d", cfg.Mode)
	}
	log.Printf("mode %d", cfg.Mode)

	if _, err := host.Init(); err != nil {
		log.Fatalln(err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		log.Fatalln(err)
	}
	defer bus.Close()
	if err := bus.SetSpeed(physic.MegaHertz); err != nil {
		log.Fatalln(err)
	}
	pin := gpioreg.ByName(cfg.IntPin)
	if pin == nil {
		log.Fatalf("no such GPIO: %s", cfg.IntPin)
	}

	hal := newPeriphHAL(i2c.Dev{Bus: bus, Addr: fusb302Addr}, pin)
	if err := hal.Init(); err != nil {
		log.Fatalln(err)
	}

	dev := fusb302.New(hal)
	a := &app{dev: dev, mode: cfg.Mode}
	a.sink = sink.New(dev, hal, a)
	if *verbose {
		dev.SetLogger(log.Default())
		a.sink.SetLogger(log.Default())
	}

	if err := a.sink.Init(); err != nil {
		log.Fatalln(err)
	}
	if id, err := dev.DeviceID(); err == nil {
		log.Printf("device: %s", id)
	}

	for range time.Tick(time.Millisecond) {
		if err := a.sink.Poll(); err != nil {
			log.Printf("poll: %v", err)
		}
	}
}

// app maps sink notifications to requests for the configured mode.
type app struct {
	dev  *fusb302.FUSB302
	sink *sink.Sink
	mode int
}

func (a *app) Notify(n pdsink.Notification) {
	switch n {
	case pdsink.NotifyProtocolChanged:
		log.Printf("protocol: %s", a.sink.Protocol())

	case pdsink.NotifySourceCapsChanged:
		// The source expects a request within tSenderResponse, so keep any
		// work here short.
		if _, err := a.sink.RequestPower(a.desiredVoltage(), 0); err != nil {
			log.Printf("request: %v", err)
		}

	case pdsink.NotifyPowerAccepted:
		log.Printf("request accepted")

	case pdsink.NotifyPowerRejected:
		log.Printf("request rejected")

	case pdsink.NotifyPowerReady:
		log.Printf("power ready: %dmV %dmA", a.sink.ActiveVoltage(), a.sink.ActiveMaxCurrent())
	}
}

func (a *app) desiredVoltage() int {
	caps := a.sink.SourceCapabilities()

	switch a.mode {
	case 0:
		if len(caps) > 0 {
			return int(caps[0].Voltage)
		}

	case 100:
		// Take the source's maximum, capped at what a 20V regulator design
		// handles.
		v := 5000
		for _, c := range caps {
			if int(c.Voltage) > v {
				v = int(c.Voltage)
			}
		}
		if v > 20000 {
			v = 20000
		}
		return v

	default:
		want := a.mode * 1000
		for _, c := range caps {
			if int(c.MinVoltage) <= want && want <= int(c.Voltage) {
				return want
			}
		}
	}
	return 5000
}
