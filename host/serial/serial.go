// Package serial opens the link to the co-processor: a tarm/serial port
// for real hardware, or any in-memory stream for the simulator.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is a byte stream to the co-processor
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config describes a serial device
type Config struct {
	Device      string        // e.g. /dev/ttyACM0 or COM3
	Baud        int           // USB CDC ignores it
	ReadTimeout time.Duration // 0 blocks
}

// DefaultConfig returns the settings used for the RP2040 USB CDC port
func DefaultConfig(device string) *Config {
	return &Config{Device: device, Baud: 250000, ReadTimeout: 100 * time.Millisecond}
}

// Open opens the serial device described by cfg
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: nil config")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return p, nil
}

// PipePort adapts any io.ReadWriteCloser to Port
type PipePort struct {
	io.ReadWriteCloser
}

// Flush does nothing, pipes hold no buffered bytes
func (PipePort) Flush() error { return nil }
