package protocol

import (
	"encoding/binary"
	"errors"
)

// MessageFields is the number of 32-bit fields carried by every message
const MessageFields = 6

// MessageSize is the encoded size of one message: kind byte + fields
const MessageSize = 1 + 4*MessageFields

var (
	ErrShortMessage   = errors.New("truncated control message")
	ErrUnknownMessage = errors.New("unknown control message kind")
)

// MsgKind identifies a control message
type MsgKind uint8

// Control message kinds.
// Query kinds are answered with a message of the same kind carrying the
// value in field 0.
const (
	MsgPing MsgKind = 0x01 // Keepalive, no fields

	// GPIO access
	MsgGPIOSetupOutput MsgKind = 0x10 // port, pin
	MsgGPIOSetupInput  MsgKind = 0x11 // port, pin
	MsgGPIOPinGet      MsgKind = 0x12 // port, pin -> level
	MsgGPIOPinSet      MsgKind = 0x13 // port, pin
	MsgGPIOPinClear    MsgKind = 0x14 // port, pin
	MsgGPIOPortGet     MsgKind = 0x15 // port -> levels
	MsgGPIOPortSet     MsgKind = 0x16 // port, mask
	MsgGPIOPortClear   MsgKind = 0x17 // port, mask

	// Pulse generator
	MsgPinSetup      MsgKind = 0x20 // channel, port, pin, inverted
	MsgTaskAdd       MsgKind = 0x21 // channel, dir, toggles, setup ns, hold ns, delay ns
	MsgTaskAbort     MsgKind = 0x22 // channel, phase
	MsgStateGet      MsgKind = 0x23 // channel -> busy
	MsgTogglesGet    MsgKind = 0x24 // channel -> toggles
	MsgWatchdogSetup MsgKind = 0x25 // enabled, timeout ns
	MsgPosGet        MsgKind = 0x26 // channel -> position
	MsgPosSet        MsgKind = 0x27 // channel, position
	MsgTasksDoneGet  MsgKind = 0x28 // channel -> tasks done
	MsgTasksDoneSet  MsgKind = 0x29 // channel, tasks done
	MsgAbortAll      MsgKind = 0x2A // no fields
)

// Message is one fixed-size control message
type Message struct {
	Kind   MsgKind
	Fields [MessageFields]uint32
}

// NewMessage creates a message; extra fields beyond MessageFields are ignored
func NewMessage(kind MsgKind, fields ...uint32) Message {
	msg := Message{Kind: kind}
	copy(msg.Fields[:], fields)
	return msg
}

// Encode writes the message to output
func (m *Message) Encode(output OutputBuffer) {
	var buf [MessageSize]byte
	buf[0] = byte(m.Kind)
	for i, f := range m.Fields {
		binary.LittleEndian.PutUint32(buf[1+4*i:], f)
	}
	output.Output(buf[:])
}

// Bytes returns the encoded message
func (m *Message) Bytes() []byte {
	out := NewScratchOutput()
	m.Encode(out)
	return out.Result()
}

// DecodeMessage decodes one message from the data slice.
// The data slice is advanced past the consumed bytes.
func DecodeMessage(data *[]byte) (Message, error) {
	var msg Message
	if len(*data) < MessageSize {
		return msg, ErrShortMessage
	}
	buf := (*data)[:MessageSize]
	msg.Kind = MsgKind(buf[0])
	for i := range msg.Fields {
		msg.Fields[i] = binary.LittleEndian.Uint32(buf[1+4*i:])
	}
	*data = (*data)[MessageSize:]
	return msg, nil
}

// IsQuery reports whether the device answers this kind with a value
func (k MsgKind) IsQuery() bool {
	switch k {
	case MsgGPIOPinGet, MsgGPIOPortGet, MsgStateGet, MsgTogglesGet, MsgPosGet, MsgTasksDoneGet:
		return true
	}
	return false
}

var kindNames = map[MsgKind]string{
	MsgPing:            "ping",
	MsgGPIOSetupOutput: "gpio_setup_output",
	MsgGPIOSetupInput:  "gpio_setup_input",
	MsgGPIOPinGet:      "gpio_pin_get",
	MsgGPIOPinSet:      "gpio_pin_set",
	MsgGPIOPinClear:    "gpio_pin_clear",
	MsgGPIOPortGet:     "gpio_port_get",
	MsgGPIOPortSet:     "gpio_port_set",
	MsgGPIOPortClear:   "gpio_port_clear",
	MsgPinSetup:        "pin_setup",
	MsgTaskAdd:         "task_add",
	MsgTaskAbort:       "task_abort",
	MsgStateGet:        "state_get",
	MsgTogglesGet:      "toggles_get",
	MsgWatchdogSetup:   "watchdog_setup",
	MsgPosGet:          "pos_get",
	MsgPosSet:          "pos_set",
	MsgTasksDoneGet:    "tasks_done_get",
	MsgTasksDoneSet:    "tasks_done_set",
	MsgAbortAll:        "abort_all",
}

func (k MsgKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	const digits = "0123456789abcdef"
	return "kind_0x" + string([]byte{digits[k>>4], digits[k&0x0F]})
}
