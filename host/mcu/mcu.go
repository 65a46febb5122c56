package mcu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"pulsgen/core"
	"pulsgen/host/serial"
	"pulsgen/protocol"
)

// DefaultQueryTimeout is how long a query waits for its reply
const DefaultQueryTimeout = time.Second

var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrQueryTimeout = errors.New("no reply from MCU")
)

// MCU represents a connection to a pulse generator co-processor
type MCU struct {
	// Transport layer
	transport *protocol.HostTransport

	// Serial port
	port serial.Port

	// Connection state
	connected atomic.Bool

	// QueryTimeout bounds the wait for a query reply
	QueryTimeout time.Duration

	queryMu sync.Mutex // One query in flight at a time
}

// ChannelStatus is a snapshot of one pulse channel
type ChannelStatus struct {
	Channel   uint32 `json:"channel"`
	Busy      bool   `json:"busy"`
	Toggles   uint32 `json:"toggles"`
	Position  int32  `json:"position"`
	TasksDone uint32 `json:"tasks_done"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		QueryTimeout: DefaultQueryTimeout,
	}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	// Open serial port
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	// Drop whatever the device sent before we were listening
	if err := port.Flush(); err != nil {
		glog.Warningf("flush %s: %v", cfg.Device, err)
	}

	m.Attach(port)
	glog.Infof("connected to %s", cfg.Device)
	return nil
}

// Attach uses an already open link, such as a pipe to a simulated device
func (m *MCU) Attach(port serial.Port) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected.Store(true)
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	m.connected.Store(false)
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected.Load()
}

// Send sends control messages, packing as many per frame as fit, and
// waits for every frame to be acknowledged
func (m *MCU) Send(msgs ...protocol.Message) error {
	if !m.connected.Load() {
		return ErrNotConnected
	}

	for len(msgs) > 0 {
		n := len(msgs)
		if n > protocol.MessagesPerFrame {
			n = protocol.MessagesPerFrame
		}
		if glog.V(2) {
			for _, msg := range msgs[:n] {
				glog.Infof("SEND %s %v", msg.Kind, msg.Fields)
			}
		}
		if err := m.transport.SendMessagesWithTimeout(msgs[:n], protocol.DefaultAckTimeout); err != nil {
			return fmt.Errorf("send %s: %w", msgs[0].Kind, err)
		}
		msgs = msgs[n:]
	}
	return nil
}

// Query sends a query message and returns the value of its reply
func (m *MCU) Query(kind protocol.MsgKind, fields ...uint32) (uint32, error) {
	if !kind.IsQuery() {
		return 0, fmt.Errorf("%s is not a query", kind)
	}

	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	if !m.connected.Load() {
		return 0, ErrNotConnected
	}
	m.transport.DrainResponses()

	if err := m.Send(protocol.NewMessage(kind, fields...)); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(m.QueryTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("%s: %w", kind, ErrQueryTimeout)
		}
		resp, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return 0, fmt.Errorf("%s: %w: %v", kind, ErrQueryTimeout, err)
		}
		if resp.Kind == kind {
			glog.V(2).Infof("RECV %s %d", kind, resp.Fields[0])
			return resp.Fields[0], nil
		}
		glog.V(1).Infof("ignoring %s reply while waiting for %s", resp.Kind, kind)
	}
}

func checkChannel(ch uint32) error {
	if ch >= core.ChannelCount {
		return fmt.Errorf("channel %d: %w", ch, core.ErrInvalidChannel)
	}
	return nil
}

func boolField(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Ping feeds the device watchdog
func (m *MCU) Ping() error {
	return m.Send(protocol.NewMessage(protocol.MsgPing))
}

// SetupPin binds channel ch to a GPIO pin
func (m *MCU) SetupPin(ch, port, pin uint32, inverted bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return m.Send(protocol.NewMessage(protocol.MsgPinSetup, ch, port, pin, boolField(inverted)))
}

// AddTask starts or queues a pulse train on channel ch
func (m *MCU) AddTask(ch uint32, t core.Task) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return m.Send(protocol.NewMessage(protocol.MsgTaskAdd,
		ch, boolField(t.Dir), t.Toggles, t.SetupNs, t.HoldNs, t.DelayNs))
}

// AddPWMTask starts or queues a square wave of frequencyHz with duty
// in units of 1/core.MaxDuty. toggles 0 runs until aborted.
func (m *MCU) AddPWMTask(ch, frequencyHz, duty, toggles uint32) error {
	t, err := core.PWMTask(frequencyHz, duty, toggles)
	if err != nil {
		return err
	}
	return m.AddTask(ch, t)
}

// Abort stops channel ch when its pin next enters phase
func (m *MCU) Abort(ch uint32, phase core.AbortPhase) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return m.Send(protocol.NewMessage(protocol.MsgTaskAbort, ch, uint32(phase)))
}

// AbortAll immediately stops every channel
func (m *MCU) AbortAll() error {
	return m.Send(protocol.NewMessage(protocol.MsgAbortAll))
}

// SetWatchdog arms the device watchdog; a zero timeout disarms it
func (m *MCU) SetWatchdog(timeout time.Duration) error {
	if timeout < 0 || timeout > time.Duration(^uint32(0)) {
		return fmt.Errorf("watchdog timeout %v out of range", timeout)
	}
	return m.Send(protocol.NewMessage(protocol.MsgWatchdogSetup, boolField(timeout > 0), uint32(timeout)))
}

// State reports whether channel ch has an active task
func (m *MCU) State(ch uint32) (bool, error) {
	if err := checkChannel(ch); err != nil {
		return false, err
	}
	v, err := m.Query(protocol.MsgStateGet, ch)
	return v != 0, err
}

// Toggles returns the toggle count of the current or last task on ch
func (m *MCU) Toggles(ch uint32) (uint32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return m.Query(protocol.MsgTogglesGet, ch)
}

// Position returns the signed position counter of ch
func (m *MCU) Position(ch uint32) (int32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	v, err := m.Query(protocol.MsgPosGet, ch)
	return int32(v), err
}

// SetPosition overwrites the position counter of ch
func (m *MCU) SetPosition(ch uint32, pos int32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return m.Send(protocol.NewMessage(protocol.MsgPosSet, ch, uint32(pos)))
}

// TasksDone returns the completed task counter of ch
func (m *MCU) TasksDone(ch uint32) (uint32, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return m.Query(protocol.MsgTasksDoneGet, ch)
}

// SetTasksDone overwrites the completed task counter of ch
func (m *MCU) SetTasksDone(ch, done uint32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return m.Send(protocol.NewMessage(protocol.MsgTasksDoneSet, ch, done))
}

// Status reads every counter of ch
func (m *MCU) Status(ch uint32) (ChannelStatus, error) {
	st := ChannelStatus{Channel: ch}
	var err error
	if st.Busy, err = m.State(ch); err != nil {
		return st, err
	}
	if st.Toggles, err = m.Toggles(ch); err != nil {
		return st, err
	}
	if st.Position, err = m.Position(ch); err != nil {
		return st, err
	}
	st.TasksDone, err = m.TasksDone(ch)
	return st, err
}

// GPIOSetupOutput configures a pin as an output
func (m *MCU) GPIOSetupOutput(port, pin uint32) error {
	return m.Send(protocol.NewMessage(protocol.MsgGPIOSetupOutput, port, pin))
}

// GPIOSetupInput configures a pin as an input
func (m *MCU) GPIOSetupInput(port, pin uint32) error {
	return m.Send(protocol.NewMessage(protocol.MsgGPIOSetupInput, port, pin))
}

// GPIOPin reads a pin level
func (m *MCU) GPIOPin(port, pin uint32) (bool, error) {
	v, err := m.Query(protocol.MsgGPIOPinGet, port, pin)
	return v != 0, err
}

// GPIOSet drives a pin high
func (m *MCU) GPIOSet(port, pin uint32) error {
	return m.Send(protocol.NewMessage(protocol.MsgGPIOPinSet, port, pin))
}

// GPIOClear drives a pin low
func (m *MCU) GPIOClear(port, pin uint32) error {
	return m.Send(protocol.NewMessage(protocol.MsgGPIOPinClear, port, pin))
}

// GPIOPort reads every pin level of a port
func (m *MCU) GPIOPort(port uint32) (uint32, error) {
	return m.Query(protocol.MsgGPIOPortGet, port)
}

// GPIOPortSet drives the pins in mask high
func (m *MCU) GPIOPortSet(port, mask uint32) error {
	return m.Send(protocol.NewMessage(protocol.MsgGPIOPortSet, port, mask))
}

// GPIOPortClear drives the pins in mask low
func (m *MCU) GPIOPortClear(port, mask uint32) error {
	return m.Send(protocol.NewMessage(protocol.MsgGPIOPortClear, port, mask))
}

// KeepAlive pings the device every period until ctx is done, so the device
// watchdog only fires when this host stops running
func (m *MCU) KeepAlive(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Ping(); err != nil {
				glog.Warningf("keepalive: %v", err)
			}
		}
	}
}
