package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
	"go.uber.org/zap"
)

type Sender interface {
	Session
	SendBlock(block []byte, blockNum uint16) error
}

// Download streams src to the peer one acknowledged block at a time.
type Download struct {
	transfer
	src        io.ReadCloser
	blockNum   uint16
	firstBlock uint16
	blocks     atomic.Int64
	bytesAccum int64
}

func NewDownload(conn net.Conn, src io.ReadCloser,
	logger *zap.SugaredLogger, opts TransferOptions,
) *Download {
	d := &Download{src: src, firstBlock: 1}
	d.init(conn, logger, opts)

	return d
}

// Blocks is safe to call while Run is in progress.
func (d *Download) Blocks() int {
	return int(d.blocks.Load())
}

func (d *Download) Run() error {
	defer func() {
		if err := d.src.Close(); err != nil {
			d.l.Errorf("error while closing file: %s", err.Error())
		}
	}()

	block := make([]byte, types.MaxPayloadSize)
	d.blockNum = d.firstBlock

	for {
		d.setState(StateSendingBlock)

		n, err := io.ReadFull(d.src, block)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			d.setState(StateFailed)
			d.sendError(types.ErrNotDefined, "error while reading file")

			return fmt.Errorf("error while reading block#%d: %w", d.blockNum, err)
		}

		if err := d.SendBlock(block[:n], d.blockNum); err != nil {
			d.setState(StateFailed)

			return err
		}

		d.blocks.Add(1)
		d.bytesAccum += int64(n)

		d.l.Debugf("sent block#=%d, sent #bytes=%d", d.blockNum, n)

		if n < types.MaxPayloadSize {
			d.setState(StateDone)
			d.l.Infof("sent %d blocks, sent %d bytes", d.Blocks(), d.bytesAccum)

			return nil
		}

		d.blockNum++
	}
}

// SendBlock transmits Data(blockNum) and waits for its ack, retransmitting
// on every timeout until NumTries attempts are used up. Exhaustion is not
// reported to the peer.
func (d *Download) SendBlock(block []byte, blockNum uint16) error {
	b, err := types.Encode(types.NewData(blockNum, block))
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= d.opts.NumTries; attempt++ {
		if attempt > 1 {
			d.l.Debugf("timeout, retransmitting block#=%d attempt=%d", blockNum, attempt)
		}

		d.setState(StateSendingBlock)

		if err := d.writeRaw(b); err != nil {
			d.l.Errorf("error while writing data packet: %s", err.Error())
		}

		d.setState(StateAwaitingAck)

		acked, err := d.awaitAck(blockNum)
		if err != nil {
			return err
		}

		if acked {
			return nil
		}
	}

	return fmt.Errorf("%w: block#=%d after %d attempts", utils.ErrRetriesExhausted, blockNum, d.opts.NumTries)
}

// awaitAck reports whether Ack(blockNum) arrived before the read timeout.
// Stale acks and stray packets do not extend the deadline.
func (d *Download) awaitAck(blockNum uint16) (bool, error) {
	deadline := time.Now().Add(d.opts.ReadTimeout)

	for {
		p, err := d.readPacket(deadline)
		if err != nil {
			switch {
			case isTimeout(err):
				return false, nil
			case isClosed(err):
				return false, err
			}

			d.l.Debugf("ignoring datagram while waiting for ack#%d: %s", blockNum, err.Error())

			continue
		}

		switch p := p.(type) {
		case *types.Ack:
			if p.BlockNum == blockNum {
				d.l.Debugf("received ack block#=%d", p.BlockNum)

				return true, nil
			}

			d.l.Debugf("ack block# %d != expected block# %d", p.BlockNum, blockNum)
		case *types.Error:
			return false, fmt.Errorf("%w: %s", utils.ErrPeerAborted, p.Error())
		default:
			d.l.Debugf("ignoring %s packet while waiting for ack#%d", p.Op(), blockNum)
		}
	}
}
