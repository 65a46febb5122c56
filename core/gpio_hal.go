package core

import "errors"

// ErrInvalidPin is returned when a port or pin number is out of range
var ErrInvalidPin = errors.New("invalid GPIO port or pin")

// GPIOPortCount is the number of GPIO banks addressable by port number
const GPIOPortCount = 8

// GPIOPinsPerPort is the number of pins in one bank
const GPIOPinsPerPort = 32

// GPIODriver is the abstract GPIO port that the pulse engine drives.
// Platform-specific implementations handle actual hardware control.
// Pin level operations sit on the scheduler's hot path and must not block
// or allocate, so they do not return errors; out-of-range ports and pins
// are ignored by implementations.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if port or pin is invalid
	ConfigureOutput(port, pin uint32) error

	// ConfigureInput configures a pin as a digital input
	ConfigureInput(port, pin uint32) error

	// ReadPin reads the actual pin level (true = high)
	ReadPin(port, pin uint32) bool

	// SetPin drives the pin high
	SetPin(port, pin uint32)

	// ClearPin drives the pin low
	ClearPin(port, pin uint32)

	// ReadPort returns the level of every pin in the port, one bit per pin
	ReadPort(port uint32) uint32

	// SetPort drives every pin in mask high
	SetPort(port, mask uint32)

	// ClearPort drives every pin in mask low
	ClearPort(port, mask uint32)
}

// validPin reports whether port/pin are addressable
func validPin(port, pin uint32) bool {
	return port < GPIOPortCount && pin < GPIOPinsPerPort
}
