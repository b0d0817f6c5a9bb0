package main

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// periphHAL adapts a periph I2C device and GPIO to the driver's hardware
// interface.
type periphHAL struct {
	dev   i2c.Dev
	intN  gpio.PinIO
	start time.Time
}

func newPeriphHAL(dev i2c.Dev, intN gpio.PinIO) *periphHAL {
	return &periphHAL{dev: dev, intN: intN, start: time.Now()}
}

func (h *periphHAL) Init() error {
	if err := h.intN.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return fmt.Errorf("configuring %s: %w", h.intN, err)
	}
	return nil
}

// InitIntN is a no-op: on hosts the pin is a plain input from the start.
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
