//go:build rp2040

package main

import (
	"machine"
	"runtime/volatile"
	"unsafe"

	"pulsgen/core"
)

// SIO registers. The set/clear aliases make single-pin writes atomic, so
// the scheduler never needs a read-modify-write of the output register.
const (
	sioBase      = 0xd0000000
	sioGPIOIn    = sioBase + 0x004
	sioGPIOSet   = sioBase + 0x014
	sioGPIOClr   = sioBase + 0x018
	sioGPIOOESet = sioBase + 0x024
	sioGPIOOEClr = sioBase + 0x028
)

// rp2040PinCount is the number of user GPIOs, all in port 0
const rp2040PinCount = 30

var (
	gpioIn    = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOIn)))
	gpioSet   = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOSet)))
	gpioClr   = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOClr)))
	gpioOESet = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOESet)))
	gpioOEClr = (*volatile.Register32)(unsafe.Pointer(uintptr(sioGPIOOEClr)))
)

// SIOGPIO implements core.GPIODriver on the RP2040 single-cycle IO block
type SIOGPIO struct{}

func validRPPin(port, pin uint32) bool {
	return port == 0 && pin < rp2040PinCount
}

// ConfigureOutput selects the SIO function for pin and enables its driver
func (SIOGPIO) ConfigureOutput(port, pin uint32) error {
	if !validRPPin(port, pin) {
		return core.ErrInvalidPin
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	gpioOESet.Set(1 << pin)
	return nil
}

// ConfigureInput selects the SIO function for pin and disables its driver
func (SIOGPIO) ConfigureInput(port, pin uint32) error {
	if !validRPPin(port, pin) {
		return core.ErrInvalidPin
	}
	gpioOEClr.Set(1 << pin)
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

// ReadPin reads the pad level, which follows the output of a driven pin
func (SIOGPIO) ReadPin(port, pin uint32) bool {
	if !validRPPin(port, pin) {
		return false
	}
	return gpioIn.Get()&(1<<pin) != 0
}

func (SIOGPIO) SetPin(port, pin uint32) {
	if validRPPin(port, pin) {
		gpioSet.Set(1 << pin)
	}
}

func (SIOGPIO) ClearPin(port, pin uint32) {
	if validRPPin(port, pin) {
		gpioClr.Set(1 << pin)
	}
}

func (SIOGPIO) ReadPort(port uint32) uint32 {
	if port != 0 {
		return 0
	}
	return gpioIn.Get() & (1<<rp2040PinCount - 1)
}

func (SIOGPIO) SetPort(port, mask uint32) {
	if port == 0 {
		gpioSet.Set(mask & (1<<rp2040PinCount - 1))
	}
}

func (SIOGPIO) ClearPort(port, mask uint32) {
	if port == 0 {
		gpioClr.Set(mask & (1<<rp2040PinCount - 1))
	}
}
