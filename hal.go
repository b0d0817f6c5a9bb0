package pdsink

// HAL is the minimum hardware interface the FUSB302B driver needs: register
// access over I2C, the interrupt line, and a millisecond time base. A single
// driver implementation works across different µControllers and host
// platforms by implementing this interface.
//
// The driver owns the I2C bus for the duration of a Poll; no other client
// may touch the device during that time.
type HAL interface {
	Clock

	// Init initializes the hardware. Neither the driver nor the sink calls
	// it; the application calls it once before initializing the sink.
	Init() error

	// InitIntN reconfigures the interrupt pin as a plain input. The driver
	// calls it each time a source is detected on a CC line, before waiting
	// for the first USB PD message, as the pin may be shared with a debug
	// function until then. Implementations with a dedicated pin can make it
	// a no-op.
	InitIntN() error

	// ReadRegisters reads len(buf) bytes from consecutive device registers
	// starting at reg.
	ReadRegisters(reg uint8, buf []byte) error

	// WriteRegisters writes data to consecutive device registers starting at
	// reg.
	WriteRegisters(reg uint8, data []byte) error

	// IsInterruptAsserted reports whether the interrupt line is asserted
	// (low).
	IsInterruptAsserted() (bool, error)

	// Delay busy-waits for the given number of milliseconds.
	Delay(ms uint32)
}
