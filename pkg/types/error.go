package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

type Error struct {
	ErrMsg    string
	ErrorCode ErrCode
	Opcode    OpCode
}

func (e *Error) Op() OpCode {
	return e.Opcode
}

func (e *Error) Error() string {
	return fmt.Sprintf("tftp error %d: %s", e.ErrorCode, e.ErrMsg)
}

// MarshalBinary always produces 4 + len(ErrMsg) + 1 bytes.
func (e *Error) MarshalBinary() ([]byte, error) {
	if strings.IndexByte(e.ErrMsg, 0) >= 0 {
		return nil, utils.ErrNullByteInString
	}

	b := new(bytes.Buffer)
	b.Grow(HeaderSize + len(e.ErrMsg) + 1)

	if err := binary.Write(b, binary.BigEndian, &e.Opcode); err != nil {
		return nil, fmt.Errorf("error while writing opcode: %w", err)
	}

	if err := binary.Write(b, binary.BigEndian, &e.ErrorCode); err != nil {
		return nil, fmt.Errorf("error while writing error code: %w", err)
	}

	if _, err := b.WriteString(e.ErrMsg); err != nil {
		return nil, fmt.Errorf("error while writing error message: %w", err)
	}

	if err := b.WriteByte(0); err != nil {
		return nil, fmt.Errorf("error while writing null byte: %w", err)
	}

	return b.Bytes(), nil
}

func (e *Error) UnmarshalBinary(data []byte) error {
	b := bytes.NewBuffer(data)
	var err error

	if err = binary.Read(b, binary.BigEndian, &e.Opcode); err != nil {
		return fmt.Errorf("%w: reading opcode: %w", utils.ErrMalformedPacket, err)
	}

	if e.Opcode != OpCodeError {
		return utils.ErrWrongOpCode
	}

	if err = binary.Read(b, binary.BigEndian, &e.ErrorCode); err != nil {
		return fmt.Errorf("%w: reading error code: %w", utils.ErrMalformedPacket, err)
	}

	e.ErrMsg, err = b.ReadString(0)
	if err != nil {
		return fmt.Errorf("%w: error message is not null terminated", utils.ErrMalformedPacket)
	}

	e.ErrMsg = strings.TrimSuffix(e.ErrMsg, "\x00")

	return nil
}
