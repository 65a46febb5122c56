//go:build rp2040

package main

import (
	"machine"

	"pulsgen/protocol"
)

// newUSBLink brings up the CDC-ACM port of the TinyGo runtime and links it
// to the transport buffers
func newUSBLink(in *protocol.FifoBuffer, out *protocol.ScratchOutput) *protocol.Link {
	machine.Serial.Configure(machine.UARTConfig{})
	return protocol.NewLink(machine.Serial, in, out)
}
