package websocket

import "strconv"

// Opcode denotes the type of a WebSocket frame, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2 and
// https://datatracker.ietf.org/doc/html/rfc6455#section-11.8.
type Opcode int

const (
	opcodeContinuation Opcode = iota
	OpcodeText
	OpcodeBinary
	// 3-7 are reserved for further non-control frames.
	_
	_
	_
	_
	_
	OpcodeClose
	OpcodePing
	OpcodePong
	// 11-15 are reserved for further control frames.
)

// String returns the opcode's name, or its number if it's unrecognized.
func (o Opcode) String() string {
	switch o {
	case opcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return strconv.Itoa(int(o))
	}
}

// isControl reports whether o identifies a control frame
// (ping, pong, or close), per RFC 6455 section 5.5.
func (o Opcode) isControl() bool {
	return o >= OpcodeClose
}

// isKnown reports whether o is a defined opcode. Unknown opcodes
// MUST fail the WebSocket connection, per RFC 6455 section 5.2.
func (o Opcode) isKnown() bool {
	switch o {
	case opcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}
