package server

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
	"go.uber.org/zap"
)

type Receiver interface {
	Session
	AcknowledgeWrq() error
	ReceiveBlock(blockNum uint16) (*types.Data, error)
}

// Upload writes the blocks a peer sends into dst, acknowledging each one.
type Upload struct {
	transfer
	dst        io.WriteCloser
	closed     bool
	firstBlock uint16
	blocks     atomic.Int64
	bytesAccum int64
}

func NewUpload(conn net.Conn, dst io.WriteCloser,
	logger *zap.SugaredLogger, opts TransferOptions,
) *Upload {
	u := &Upload{dst: dst, firstBlock: 1}
	u.init(conn, logger, opts)

	return u
}

// Blocks is safe to call while Run is in progress.
func (u *Upload) Blocks() int {
	return int(u.blocks.Load())
}

// AcknowledgeWrq sends Ack(0), telling the peer to start with block 1.
func (u *Upload) AcknowledgeWrq() error {
	if err := u.writePacket(types.NewAck(0)); err != nil {
		return fmt.Errorf("error while acknowledging wrq: %w", err)
	}

	return nil
}

func (u *Upload) Run() error {
	defer u.release()

	if err := u.AcknowledgeWrq(); err != nil {
		u.setState(StateFailed)

		return err
	}

	blockNum := u.firstBlock

	for {
		u.setState(StateAwaitingData)

		data, err := u.ReceiveBlock(blockNum)
		if err != nil {
			u.setState(StateFailed)

			return err
		}

		n := len(data.Payload)

		if _, err := u.dst.Write(data.Payload); err != nil {
			u.setState(StateFailed)
			u.sendError(types.ErrDiskFull, "")

			return fmt.Errorf("error while writing block#%d to file: %w", blockNum, err)
		}

		last := n < types.MaxPayloadSize

		// the final ack promises the file is on disk
		if last {
			u.closed = true

			if err := u.dst.Close(); err != nil {
				u.setState(StateFailed)
				u.sendError(types.ErrDiskFull, "")

				return fmt.Errorf("error while closing file: %w", err)
			}
		}

		if err := u.writePacket(types.NewAck(blockNum)); err != nil {
			u.l.Errorf("error while sending ack#%d: %s", blockNum, err.Error())
		}

		u.blocks.Add(1)
		u.bytesAccum += int64(n)

		u.l.Debugf("received block#=%d, received #bytes=%d", blockNum, n)

		if last {
			u.setState(StateDone)
			u.l.Infof("received %d blocks, received %d bytes", u.Blocks(), u.bytesAccum)

			return nil
		}

		blockNum++
	}
}

// ReceiveBlock waits for Data(blockNum). Other block numbers are dropped
// without advancing. The session gives up after NumTries consecutive read
// timeouts with nothing received.
func (u *Upload) ReceiveBlock(blockNum uint16) (*types.Data, error) {
	lastAcked := blockNum - 1
	idle := 0

	for {
		p, err := u.readPacket(time.Now().Add(u.opts.ReadTimeout))
		if err != nil {
			switch {
			case isTimeout(err):
				idle++
				if idle >= u.opts.NumTries {
					return nil, fmt.Errorf("%w: waiting for block#=%d", utils.ErrIdleTimeout, blockNum)
				}

				if u.opts.ReackDuplicates {
					u.reack(lastAcked)
				}

				continue
			case isClosed(err):
				return nil, err
			}

			u.l.Debugf("ignoring datagram while waiting for block#%d: %s", blockNum, err.Error())

			continue
		}

		idle = 0

		switch p := p.(type) {
		case *types.Data:
			if p.BlockNum == blockNum {
				return p, nil
			}

			u.l.Debugf("data block# %d != expected block# %d, discarded", p.BlockNum, blockNum)

			if u.opts.ReackDuplicates && p.BlockNum == lastAcked {
				u.reack(lastAcked)
			}
		case *types.Error:
			return nil, fmt.Errorf("%w: %s", utils.ErrPeerAborted, p.Error())
		default:
			u.l.Debugf("ignoring %s packet while waiting for block#%d", p.Op(), blockNum)
		}
	}
}

func (u *Upload) reack(blockNum uint16) {
	if err := u.writePacket(types.NewAck(blockNum)); err != nil {
		u.l.Errorf("error while re-sending ack#%d: %s", blockNum, err.Error())
	}
}

func (u *Upload) release() {
	if u.closed {
		return
	}

	u.closed = true

	if err := u.dst.Close(); err != nil {
		u.l.Errorf("error while closing file: %s", err.Error())
	}
}
