package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

type Request struct {
	Filename string
	Mode     string
	Opcode   OpCode
}

func (r *Request) Op() OpCode {
	return r.Opcode
}

func (r *Request) MarshalBinary() ([]byte, error) {
	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return nil, utils.ErrWrongOpCode
	}

	if strings.IndexByte(r.Filename, 0) >= 0 || strings.IndexByte(r.Mode, 0) >= 0 {
		return nil, utils.ErrNullByteInString
	}

	b := new(bytes.Buffer)
	rqLen := 2 + len(r.Filename) + 1 + len(r.Mode) + 1

	b.Grow(rqLen)

	if err := binary.Write(b, binary.BigEndian, &r.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if _, err := b.WriteString(r.Filename); err != nil {
		return nil, fmt.Errorf("error while writing filename: %w", err)
	}

	if err := b.WriteByte(0); err != nil {
		return nil, fmt.Errorf("error while writing null byte after filename: %w", err)
	}

	if _, err := b.WriteString(r.Mode); err != nil {
		return nil, fmt.Errorf("error while writing mode: %w", err)
	}

	if err := b.WriteByte(0); err != nil {
		return nil, fmt.Errorf("error while writing null byte after mode: %w", err)
	}

	return b.Bytes(), nil
}

// UnmarshalBinary decodes opcode, filename and mode. Anything after the mode
// terminator (RFC 2347 options) is ignored.
func (r *Request) UnmarshalBinary(data []byte) error {
	var err error

	rd := bytes.NewBuffer(data)

	if err = binary.Read(rd, binary.BigEndian, &r.Opcode); err != nil {
		return fmt.Errorf("%w: decoding opcode: %w", utils.ErrMalformedPacket, err)
	}

	if r.Opcode != OpCodeRRQ && r.Opcode != OpCodeWRQ {
		return utils.ErrWrongOpCode
	}

	r.Filename, err = rd.ReadString(0)
	if err != nil {
		return fmt.Errorf("%w: filename is not null terminated", utils.ErrMalformedPacket)
	}

	r.Filename = strings.TrimSuffix(r.Filename, "\x00")

	r.Mode, err = rd.ReadString(0)
	if err != nil {
		return fmt.Errorf("%w: mode is not null terminated", utils.ErrMalformedPacket)
	}

	r.Mode = strings.TrimSuffix(r.Mode, "\x00")

	return nil
}
