package core

import (
	"errors"

	"pulsgen/protocol"
)

// ErrInvalidPhase is returned for an abort phase the engine does not know
var ErrInvalidPhase = errors.New("invalid abort phase")

// ResponseSender delivers the answer to a query message to the host
type ResponseSender func(kind protocol.MsgKind, value uint32)

// Controller maps control messages onto engine operations.
// Every message of a registered kind feeds the watchdog before it runs.
type Controller struct {
	engine   *Engine
	registry *CommandRegistry
	send     ResponseSender

	accepted uint32 // Messages of a known kind
	rejected uint32 // Messages of an unknown kind
}

// NewController creates a controller for engine with every pulse generator
// and GPIO message registered. send may be nil when no host link exists.
func NewController(engine *Engine, send ResponseSender) *Controller {
	c := &Controller{
		engine:   engine,
		registry: NewCommandRegistry(),
		send:     send,
	}
	c.InitPulsgenCommands()
	c.InitGPIOCommands()
	return c
}

// Registry returns the controller's dispatch table
func (c *Controller) Registry() *CommandRegistry {
	return c.registry
}

// Engine returns the controlled engine
func (c *Controller) Engine() *Engine {
	return c.engine
}

// HandleMessage dispatches one control message.
// It has the signature of protocol.MessageHandler.
func (c *Controller) HandleMessage(msg *protocol.Message) error {
	if _, ok := c.registry.GetCommand(msg.Kind); !ok {
		c.rejected++
		return protocol.ErrUnknownMessage
	}

	c.accepted++
	c.engine.FeedWatchdog()
	return c.registry.Dispatch(msg)
}

// Stats returns the accepted and rejected message counters
func (c *Controller) Stats() (accepted, rejected uint32) {
	return c.accepted, c.rejected
}

// reply answers a query
func (c *Controller) reply(kind protocol.MsgKind, value uint32) {
	if c.send != nil {
		c.send(kind, value)
	}
}

// InitPulsgenCommands registers the pulse generator messages
func (c *Controller) InitPulsgenCommands() {
	c.registry.Register(protocol.MsgPing, "ping", "", c.handlePing)
	c.registry.Register(protocol.MsgPinSetup, "pulsgen_pin_setup", "channel port pin inverted", c.handlePinSetup)
	c.registry.Register(protocol.MsgTaskAdd, "pulsgen_task_add", "channel dir toggles setup_ns hold_ns delay_ns", c.handleTaskAdd)
	c.registry.Register(protocol.MsgTaskAbort, "pulsgen_task_abort", "channel phase", c.handleTaskAbort)
	c.registry.Register(protocol.MsgStateGet, "pulsgen_state_get", "channel", c.handleStateGet)
	c.registry.Register(protocol.MsgTogglesGet, "pulsgen_toggles_get", "channel", c.handleTogglesGet)
	c.registry.Register(protocol.MsgWatchdogSetup, "pulsgen_watchdog_setup", "enabled timeout_ns", c.handleWatchdogSetup)
	c.registry.Register(protocol.MsgPosGet, "pulsgen_pos_get", "channel", c.handlePosGet)
	c.registry.Register(protocol.MsgPosSet, "pulsgen_pos_set", "channel pos", c.handlePosSet)
	c.registry.Register(protocol.MsgTasksDoneGet, "pulsgen_tasks_done_get", "channel", c.handleTasksDoneGet)
	c.registry.Register(protocol.MsgTasksDoneSet, "pulsgen_tasks_done_set", "channel done", c.handleTasksDoneSet)
	c.registry.Register(protocol.MsgAbortAll, "pulsgen_abort_all", "", c.handleAbortAll)
}

// handlePing only feeds the watchdog
func (c *Controller) handlePing(_ *protocol.Message) error {
	return nil
}

// handlePinSetup binds a channel to a pin
// Fields: channel port pin inverted
func (c *Controller) handlePinSetup(msg *protocol.Message) error {
	f := &msg.Fields
	return c.engine.ConfigurePin(f[0], f[1], f[2], f[3] != 0)
}

// handleTaskAdd starts or queues a task
// Fields: channel dir toggles setup_ns hold_ns delay_ns
func (c *Controller) handleTaskAdd(msg *protocol.Message) error {
	f := &msg.Fields
	return c.engine.AddTask(f[0], Task{
		Dir:     f[1] != 0,
		Toggles: f[2],
		SetupNs: f[3],
		HoldNs:  f[4],
		DelayNs: f[5],
	})
}

// handleTaskAbort requests a stop
// Fields: channel phase
func (c *Controller) handleTaskAbort(msg *protocol.Message) error {
	phase := AbortPhase(msg.Fields[1])
	if phase > AbortNow {
		return ErrInvalidPhase
	}
	return c.engine.Abort(msg.Fields[0], phase)
}

// handleStateGet answers 1 if the channel is busy
func (c *Controller) handleStateGet(msg *protocol.Message) error {
	busy, err := c.engine.State(msg.Fields[0])
	if err != nil {
		return err
	}
	var v uint32
	if busy {
		v = 1
	}
	c.reply(msg.Kind, v)
	return nil
}

// handleTogglesGet answers the toggle count of the current task
func (c *Controller) handleTogglesGet(msg *protocol.Message) error {
	n, err := c.engine.Toggles(msg.Fields[0])
	if err != nil {
		return err
	}
	c.reply(msg.Kind, n)
	return nil
}

// handleWatchdogSetup arms or disarms the watchdog
// Fields: enabled timeout_ns
func (c *Controller) handleWatchdogSetup(msg *protocol.Message) error {
	c.engine.SetWatchdog(msg.Fields[0] != 0, msg.Fields[1])
	return nil
}

// handlePosGet answers the position as a two's complement word
func (c *Controller) handlePosGet(msg *protocol.Message) error {
	pos, err := c.engine.Position(msg.Fields[0])
	if err != nil {
		return err
	}
	c.reply(msg.Kind, uint32(pos))
	return nil
}

func (c *Controller) handlePosSet(msg *protocol.Message) error {
	return c.engine.SetPosition(msg.Fields[0], int32(msg.Fields[1]))
}

func (c *Controller) handleTasksDoneGet(msg *protocol.Message) error {
	done, err := c.engine.TasksDone(msg.Fields[0])
	if err != nil {
		return err
	}
	c.reply(msg.Kind, done)
	return nil
}

func (c *Controller) handleTasksDoneSet(msg *protocol.Message) error {
	return c.engine.SetTasksDone(msg.Fields[0], msg.Fields[1])
}

// handleAbortAll is the emergency stop
func (c *Controller) handleAbortAll(_ *protocol.Message) error {
	c.engine.AbortAll()
	return nil
}
