package utils

import "errors"

var (
	ErrStartingServer     = errors.New("error: starting the udp server")
	ErrWrongOpCode        = errors.New("error: invalid operation code")
	ErrUnknownOpCode      = errors.New("error: unknown operation code")
	ErrMalformedPacket    = errors.New("error: malformed packet")
	ErrDataPayloadTooBig  = errors.New("error: payload exceeds 512 bytes")
	ErrNullByteInString   = errors.New("error: string contains a null byte")
	ErrPacketMarshall     = errors.New("error: can not marshall packet")
	ErrPacketCanNotBeSent = errors.New("error: packet can not be sent")
	ErrRetriesExhausted   = errors.New("error: no acknowledgment after all attempts")
	ErrIdleTimeout        = errors.New("error: peer went silent")
	ErrPeerAborted        = errors.New("error: other side aborted the transfer")
	ErrUnsupportedMode    = errors.New("error: unsupported transfer mode")
	ErrAccessViolation    = errors.New("error: access violation")
	ErrNotConnected       = errors.New("error: client is not connected")
)
