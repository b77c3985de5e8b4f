package types

import (
	"encoding"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

// Packet is any of the five on-wire message shapes.
type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	Op() OpCode
}

// Decode reads the big-endian opcode at the start of b and unmarshals the
// matching packet. Data payloads alias b.
func Decode(b []byte) (Packet, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", utils.ErrMalformedPacket, len(b))
	}

	var p Packet

	switch op := OpCode(binary.BigEndian.Uint16(b)); op {
	case OpCodeRRQ, OpCodeWRQ:
		p = &Request{}
	case OpCodeDATA:
		p = &Data{}
	case OpCodeACK:
		p = &Ack{}
	case OpCodeError:
		p = &Error{}
	default:
		return nil, fmt.Errorf("%w: %d", utils.ErrUnknownOpCode, op)
	}

	if err := p.UnmarshalBinary(b); err != nil {
		return nil, err
	}

	return p, nil
}

func Encode(p Packet) ([]byte, error) {
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrPacketMarshall, p.Op(), err)
	}

	return b, nil
}

func NewData(blockNum uint16, payload []byte) *Data {
	return &Data{Opcode: OpCodeDATA, BlockNum: blockNum, Payload: payload}
}

func NewAck(blockNum uint16) *Ack {
	return &Ack{Opcode: OpCodeACK, BlockNum: blockNum}
}

// NewError builds an error packet; an empty msg falls back to the code's
// RFC 1350 description.
func NewError(code ErrCode, msg string) *Error {
	if msg == "" {
		msg = code.String()
	}

	return &Error{Opcode: OpCodeError, ErrorCode: code, ErrMsg: msg}
}

func NewRequest(op OpCode, filename, mode string) *Request {
	return &Request{Opcode: op, Filename: filename, Mode: mode}
}
