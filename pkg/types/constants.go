package types

import "strings"

type OpCode uint16

const (
	OpCodeRRQ OpCode = iota + 1
	OpCodeWRQ
	OpCodeDATA
	OpCodeACK
	OpCodeError
)

func (o OpCode) String() string {
	switch o {
	case OpCodeRRQ:
		return "RRQ"
	case OpCodeWRQ:
		return "WRQ"
	case OpCodeDATA:
		return "DATA"
	case OpCodeACK:
		return "ACK"
	case OpCodeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

type ErrCode uint16

const (
	ErrNotDefined ErrCode = iota
	ErrFileNotFound
	ErrAccessViolation
	ErrDiskFull
	ErrIllegalTftpOp
	ErrUnknownTransferId
	ErrFileAlreadyExists
	ErrNoSuchUser
)

var errCodeMessages = map[ErrCode]string{
	ErrNotDefined:        "not defined",
	ErrFileNotFound:      "file not found",
	ErrAccessViolation:   "access violation",
	ErrDiskFull:          "disk full or allocation exceeded",
	ErrIllegalTftpOp:     "illegal tftp operation",
	ErrUnknownTransferId: "unknown transfer id",
	ErrFileAlreadyExists: "file already exists",
	ErrNoSuchUser:        "no such user",
}

func (e ErrCode) String() string {
	if msg, ok := errCodeMessages[e]; ok {
		return msg
	}

	return "unknown error"
}

const (
	MaxPayloadSize = 512
	HeaderSize     = 4
	DatagramSize   = HeaderSize + MaxPayloadSize
)

// Transfer modes. Comparisons are case-insensitive on the wire.
const (
	ModeOctet    = "octet"
	ModeNetASCII = "netascii"
	ModeMail     = "mail"
)

func NormalizeMode(mode string) string {
	return strings.ToLower(mode)
}

const DefaultClientTimeout = 5
