package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

func sendErrorPacket(conn net.Conn, errorPacket *types.Error) error {
	b, err := types.Encode(errorPacket)
	if err != nil {
		return err
	}

	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("error while writing error packet: %w", err)
	}

	return nil
}

func writeErrorPacket(conn net.PacketConn, addr net.Addr, errorPacket *types.Error, timeout time.Duration) error {
	b, err := types.Encode(errorPacket)
	if err != nil {
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("error while setting write timeout: %w", err)
	}

	if _, err := conn.WriteTo(b, addr); err != nil {
		return fmt.Errorf("error while writing error packet to %s: %w", addr, err)
	}

	return nil
}

// errorPacketFor maps a file access failure to what the peer is told.
func errorPacketFor(err error) *types.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return types.NewError(types.ErrFileNotFound, "")
	case errors.Is(err, fs.ErrPermission), errors.Is(err, utils.ErrAccessViolation):
		return types.NewError(types.ErrAccessViolation, "")
	case errors.Is(err, utils.ErrUnsupportedMode):
		return types.NewError(types.ErrIllegalTftpOp, "unsupported mode")
	default:
		return types.NewError(types.ErrNotDefined, "no defined error")
	}
}

type control func(network, address string, c syscall.RawConn) error
