package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateSendingBlock
	StateAwaitingAck
	StateAwaitingData
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSendingBlock:
		return "sending-block"
	case StateAwaitingAck:
		return "awaiting-ack"
	case StateAwaitingData:
		return "awaiting-data"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is one transfer bound to a single peer. Run blocks until the
// transfer reaches StateDone or StateFailed.
type Session interface {
	Run() error
	State() State
}

// transfer holds what both directions share: a socket connected to the peer
// and the lockstep read/write primitives on top of it.
type transfer struct {
	conn  net.Conn
	l     *zap.SugaredLogger
	opts  TransferOptions
	state atomic.Int32
	// one extra byte so an oversized datagram is detected instead of truncated
	buf []byte
}

func (t *transfer) init(conn net.Conn, logger *zap.SugaredLogger, opts TransferOptions) {
	t.conn = conn
	t.l = logger
	t.opts = opts.withDefaults()
	t.buf = make([]byte, types.DatagramSize+1)
}

func (t *transfer) State() State {
	return State(t.state.Load())
}

func (t *transfer) setState(s State) {
	t.state.Store(int32(s))
}

func (t *transfer) writeRaw(b []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("error while setting write timeout: %w", err)
	}

	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("error while writing packet: %w", err)
	}

	return nil
}

func (t *transfer) writePacket(p types.Packet) error {
	b, err := types.Encode(p)
	if err != nil {
		return err
	}

	return t.writeRaw(b)
}

// readPacket waits until deadline for the next datagram from the peer. The
// returned packet may alias the transfer buffer and is only valid until the
// next call.
func (t *transfer) readPacket(deadline time.Time) (types.Packet, error) {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("error while setting read timeout: %w", err)
	}

	n, err := t.conn.Read(t.buf)
	if err != nil {
		return nil, err
	}

	return types.Decode(t.buf[:n])
}

// sendError notifies the peer and does not wait for anything in return.
func (t *transfer) sendError(code types.ErrCode, msg string) {
	if err := sendErrorPacket(t.conn, types.NewError(code, msg)); err != nil {
		t.l.Errorf("error while sending error packet: %s", err.Error())
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
