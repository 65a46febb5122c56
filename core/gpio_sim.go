package core

// SimGPIO is an in-memory GPIODriver.
// It keeps one data and one direction word per port, like the data and
// config registers of a memory-mapped GPIO bank.
type SimGPIO struct {
	data [GPIOPortCount]uint32
	dir  [GPIOPortCount]uint32 // 1 = output

	// Writes counts every SetPin/ClearPin call, per port
	Writes [GPIOPortCount]uint32
}

// NewSimGPIO creates a simulated GPIO port set with every pin low
func NewSimGPIO() *SimGPIO {
	return &SimGPIO{}
}

func (g *SimGPIO) ConfigureOutput(port, pin uint32) error {
	if !validPin(port, pin) {
		return ErrInvalidPin
	}
	g.dir[port] |= 1 << pin
	return nil
}

func (g *SimGPIO) ConfigureInput(port, pin uint32) error {
	if !validPin(port, pin) {
		return ErrInvalidPin
	}
	g.dir[port] &^= 1 << pin
	return nil
}

func (g *SimGPIO) ReadPin(port, pin uint32) bool {
	if !validPin(port, pin) {
		return false
	}
	return g.data[port]&(1<<pin) != 0
}

func (g *SimGPIO) SetPin(port, pin uint32) {
	if !validPin(port, pin) {
		return
	}
	g.data[port] |= 1 << pin
	g.Writes[port]++
}

func (g *SimGPIO) ClearPin(port, pin uint32) {
	if !validPin(port, pin) {
		return
	}
	g.data[port] &^= 1 << pin
	g.Writes[port]++
}

func (g *SimGPIO) ReadPort(port uint32) uint32 {
	if port >= GPIOPortCount {
		return 0
	}
	return g.data[port]
}

func (g *SimGPIO) SetPort(port, mask uint32) {
	if port >= GPIOPortCount {
		return
	}
	g.data[port] |= mask
}

func (g *SimGPIO) ClearPort(port, mask uint32) {
	if port >= GPIOPortCount {
		return
	}
	g.data[port] &^= mask
}

// IsOutput reports whether the pin was configured as an output
func (g *SimGPIO) IsOutput(port, pin uint32) bool {
	if !validPin(port, pin) {
		return false
	}
	return g.dir[port]&(1<<pin) != 0
}

// Force changes a pin level without counting it as a driver write.
// Tests use it to emulate external interference on the line.
func (g *SimGPIO) Force(port, pin uint32, high bool) {
	if !validPin(port, pin) {
		return
	}
	if high {
		g.data[port] |= 1 << pin
	} else {
		g.data[port] &^= 1 << pin
	}
}
