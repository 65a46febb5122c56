// GPIO message surface
// Raw pin and port access for inputs, enables and other outputs that are
// not driven by a pulse channel
package core

import "pulsgen/protocol"

// InitGPIOCommands registers the GPIO messages
func (c *Controller) InitGPIOCommands() {
	c.registry.Register(protocol.MsgGPIOSetupOutput, "gpio_setup_output", "port pin", c.handleGPIOSetupOutput)
	c.registry.Register(protocol.MsgGPIOSetupInput, "gpio_setup_input", "port pin", c.handleGPIOSetupInput)
	c.registry.Register(protocol.MsgGPIOPinGet, "gpio_pin_get", "port pin", c.handleGPIOPinGet)
	c.registry.Register(protocol.MsgGPIOPinSet, "gpio_pin_set", "port pin", c.handleGPIOPinSet)
	c.registry.Register(protocol.MsgGPIOPinClear, "gpio_pin_clear", "port pin", c.handleGPIOPinClear)
	c.registry.Register(protocol.MsgGPIOPortGet, "gpio_port_get", "port", c.handleGPIOPortGet)
	c.registry.Register(protocol.MsgGPIOPortSet, "gpio_port_set", "port mask", c.handleGPIOPortSet)
	c.registry.Register(protocol.MsgGPIOPortClear, "gpio_port_clear", "port mask", c.handleGPIOPortClear)
}

// portPin validates the port and pin fields of a GPIO message
func portPin(msg *protocol.Message) (uint32, uint32, error) {
	port, pin := msg.Fields[0], msg.Fields[1]
	if !validPin(port, pin) {
		return 0, 0, ErrInvalidPin
	}
	return port, pin, nil
}

func (c *Controller) handleGPIOSetupOutput(msg *protocol.Message) error {
	port, pin, err := portPin(msg)
	if err != nil {
		return err
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return c.engine.gpio.ConfigureOutput(port, pin)
}

func (c *Controller) handleGPIOSetupInput(msg *protocol.Message) error {
	port, pin, err := portPin(msg)
	if err != nil {
		return err
	}
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return c.engine.gpio.ConfigureInput(port, pin)
}

// handleGPIOPinGet answers 1 if the pin reads high
func (c *Controller) handleGPIOPinGet(msg *protocol.Message) error {
	port, pin, err := portPin(msg)
	if err != nil {
		return err
	}
	var v uint32
	if c.engine.gpio.ReadPin(port, pin) {
		v = 1
	}
	c.reply(msg.Kind, v)
	return nil
}

// handleGPIOPinSet drives a pin high. A pulse channel on the same pin
// picks up the new level on its next edge.
func (c *Controller) handleGPIOPinSet(msg *protocol.Message) error {
	port, pin, err := portPin(msg)
	if err != nil {
		return err
	}
	state := disableInterrupts()
	c.engine.gpio.SetPin(port, pin)
	restoreInterrupts(state)
	return nil
}

func (c *Controller) handleGPIOPinClear(msg *protocol.Message) error {
	port, pin, err := portPin(msg)
	if err != nil {
		return err
	}
	state := disableInterrupts()
	c.engine.gpio.ClearPin(port, pin)
	restoreInterrupts(state)
	return nil
}

// handleGPIOPortGet answers the input word of a port
func (c *Controller) handleGPIOPortGet(msg *protocol.Message) error {
	port := msg.Fields[0]
	if port >= GPIOPortCount {
		return ErrInvalidPin
	}
	c.reply(msg.Kind, c.engine.gpio.ReadPort(port))
	return nil
}

// handleGPIOPortSet drives every pin in mask high
// Fields: port mask
func (c *Controller) handleGPIOPortSet(msg *protocol.Message) error {
	port := msg.Fields[0]
	if port >= GPIOPortCount {
		return ErrInvalidPin
	}
	state := disableInterrupts()
	c.engine.gpio.SetPort(port, msg.Fields[1])
	restoreInterrupts(state)
	return nil
}

func (c *Controller) handleGPIOPortClear(msg *protocol.Message) error {
	port := msg.Fields[0]
	if port >= GPIOPortCount {
		return ErrInvalidPin
	}
	state := disableInterrupts()
	c.engine.gpio.ClearPort(port, msg.Fields[1])
	restoreInterrupts(state)
	return nil
}
