package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

type Data struct {
	Payload  []byte
	BlockNum uint16
	Opcode   OpCode
}

func (d *Data) Op() OpCode {
	return d.Opcode
}

func (d *Data) MarshalBinary() ([]byte, error) {
	if len(d.Payload) > MaxPayloadSize {
		return nil, utils.ErrDataPayloadTooBig
	}

	b := new(bytes.Buffer)
	b.Grow(HeaderSize + len(d.Payload))

	if err := binary.Write(b, binary.BigEndian, &d.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := binary.Write(b, binary.BigEndian, &d.BlockNum); err != nil {
		return nil, fmt.Errorf("error while writing block#: %w", err)
	}

	if _, err := b.Write(d.Payload); err != nil {
		return nil, fmt.Errorf("error while writing payload: %w", err)
	}

	return b.Bytes(), nil
}

// UnmarshalBinary leaves Payload pointing into data.
func (d *Data) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: data packet of %d bytes", utils.ErrMalformedPacket, len(data))
	}

	if len(data)-HeaderSize > MaxPayloadSize {
		return utils.ErrDataPayloadTooBig
	}

	d.Opcode = OpCode(binary.BigEndian.Uint16(data[0:2]))
	if d.Opcode != OpCodeDATA {
		return utils.ErrWrongOpCode
	}

	d.BlockNum = binary.BigEndian.Uint16(data[2:4])
	d.Payload = data[HeaderSize:]

	return nil
}
