// Package sim runs the pulse generator firmware core on the host, against
// simulated GPIO and the host clock. It speaks the same framed protocol as
// the real device and is used by tests and by pulsgen-host -device sim.
package sim

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"pulsgen/core"
	"pulsgen/protocol"
)

// DefaultPollInterval is how often the device loop runs a scheduler pass
// when no input arrives
const DefaultPollInterval = 100 * time.Microsecond

// WallTimer is a 1MHz TickCounter driven by the host clock
type WallTimer struct {
	start time.Time
}

// Start implements core.TickCounter
func (t *WallTimer) Start() {
	t.start = time.Now()
}

// Now implements core.TickCounter
func (t *WallTimer) Now() uint32 {
	return uint32(time.Since(t.start) / time.Microsecond)
}

// Device is a simulated co-processor on one end of a byte stream
type Device struct {
	PollInterval time.Duration

	mu         sync.Mutex // Guards everything below
	gpio       *core.SimGPIO
	engine     *core.Engine
	controller *core.Controller
	transport  *protocol.Transport
	in         *protocol.FifoBuffer
	out        *protocol.ScratchOutput
	handlerErr uint32

	conn io.ReadWriter
}

// NewDevice creates a device talking over conn, timed by timer.
// A nil timer uses the host clock.
func NewDevice(conn io.ReadWriter, timer core.TickCounter) *Device {
	if timer == nil {
		timer = &WallTimer{}
	}
	d := &Device{
		PollInterval: DefaultPollInterval,
		gpio:         core.NewSimGPIO(),
		in:           protocol.NewFifoBuffer(1024),
		out:          protocol.NewScratchOutput(),
		conn:         conn,
	}
	d.engine = core.NewEngine(d.gpio, timer, core.DefaultConfig())
	d.controller = core.NewController(d.engine, func(kind protocol.MsgKind, value uint32) {
		d.transport.SendValue(kind, value)
	})
	d.transport = protocol.NewTransport(d.out, d.controller.HandleMessage)
	return d
}

// Run is the device main loop: it feeds received bytes to the transport
// and polls the scheduler until ctx is done or the stream ends
func (d *Device) Run(ctx context.Context) error {
	d.engine.Start()

	rx := make(chan []byte, 16)
	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := d.conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case rx <- data:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				errc <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err == io.EOF {
				return nil
			}
			glog.V(1).Infof("sim: link closed: %v", err)
			return err
		case data := <-rx:
			if err := d.receive(data); err != nil {
				return err
			}
		case <-ticker.C:
		}
		d.Tick()
	}
}

// receive runs the transport on new input and writes ACKs and replies back
func (d *Device) receive(data []byte) error {
	d.mu.Lock()
	d.in.Write(data)
	d.transport.Receive(d.in)
	reply := append([]byte(nil), d.out.Result()...)
	if n := d.out.Dropped(); n > 0 {
		glog.Warningf("sim: output overflow, %d bytes dropped", n)
	}
	d.out.Reset()
	if n := d.transport.HandlerErrors(); n != d.handlerErr {
		glog.Warningf("sim: %d control messages rejected", n-d.handlerErr)
		d.handlerErr = n
	}
	d.mu.Unlock()

	if len(reply) == 0 {
		return nil
	}
	_, err := d.conn.Write(reply)
	return err
}

// Tick runs one scheduler pass
func (d *Device) Tick() {
	d.mu.Lock()
	d.engine.Tick()
	d.mu.Unlock()
}

// Inspect calls fn with the device state locked
func (d *Device) Inspect(fn func(engine *core.Engine, gpio *core.SimGPIO)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.engine, d.gpio)
}

// TimingEvents returns the core timing ring, read under the device lock
// so it is never copied while Tick appends to it
func (d *Device) TimingEvents() []core.TimingEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return core.TimingEvents()
}

// Pin returns the simulated level of a pin
func (d *Device) Pin(port, pin uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpio.ReadPin(port, pin)
}

// Dictionary returns the device's message dictionary
func (d *Device) Dictionary() string {
	return d.controller.Registry().GetDictionary()
}
