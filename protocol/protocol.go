// Package protocol implements the framed link between the host and the
// pulse generator co-processor.
//
// A frame is: length byte, sequence byte, payload, CRC16 (big endian) and a
// sync byte. The payload of a host frame is one or more fixed-size control
// messages; the device acknowledges every frame with an empty frame and
// answers queries with message frames of its own.
package protocol

// Version represents the pulsgen firmware version
const Version = "0.1.0"

// Protocol constants
const (
	MessageMax = 512 // Maximum output buffer size (several frames per loop pass)

	// Message sequence masks
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4
)

// MessagesPerFrame is the number of control messages that fit in one frame
const MessagesPerFrame = (MessageLengthMax - MessageLengthMin) / MessageSize
