package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
	"go.uber.org/zap"
)

type Connector interface {
	Connect(addr string) error
	Get(ctx context.Context, remote string, dst io.Writer) (int64, error)
	Put(ctx context.Context, remote string, src io.Reader) (int64, error)
	SetTimeout(timeout uint)
	SetTrace()
	Close() error
}

// Client runs one transfer at a time against the server given to Connect.
// Each transfer learns the server's transfer id from its first reply and
// ignores datagrams from anywhere else.
type Client struct {
	conn     net.PacketConn
	server   *net.UDPAddr
	l        *zap.SugaredLogger
	timeout  time.Duration
	numTries int
	trace    bool
	mode     string
	buf      []byte
}

func NewClient(l *zap.SugaredLogger, numTries uint) *Client {
	if numTries == 0 {
		numTries = 1
	}

	return &Client{
		l:        l,
		timeout:  time.Duration(types.DefaultClientTimeout) * time.Second,
		numTries: int(numTries),
		mode:     types.ModeOctet,
		buf:      make([]byte, types.DatagramSize+1),
	}
}

func (c *Client) SetTimeout(timeout uint) {
	c.timeout = time.Duration(timeout) * time.Second
}

// SetTrace toggles logging of every packet sent and received.
func (c *Client) SetTrace() {
	c.trace = !c.trace
}

func (c *Client) Connect(addr string) error {
	server, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("error while resolving %s: %w", addr, err)
	}

	network, local := "udp", ":0"
	if server.IP.To4() != nil {
		network, local = "udp4", "0.0.0.0:0"
	}

	conn, err := net.ListenPacket(network, local)
	if err != nil {
		return fmt.Errorf("error while opening socket for %s: %w", addr, err)
	}

	if err := c.Close(); err != nil {
		c.l.Errorf("error while closing previous socket: %s", err.Error())
	}

	c.conn = conn
	c.server = server

	return nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}

// Get downloads remote into dst and returns the number of bytes written.
func (c *Client) Get(ctx context.Context, remote string, dst io.Writer) (int64, error) {
	if c.conn == nil {
		return 0, utils.ErrNotConnected
	}

	out, err := types.Encode(types.NewRequest(types.OpCodeRRQ, remote, c.mode))
	if err != nil {
		return 0, err
	}

	x := &exchange{c: c, ctx: ctx}

	var total int64

	expected := uint16(1)
	acked := false

	for {
		pkt, err := x.roundTrip(out, func(p types.Packet) verdict {
			d, ok := p.(*types.Data)

			switch {
			case !ok:
				return ignore
			case d.BlockNum == expected:
				return accept
			case acked && d.BlockNum == expected-1:
				// our last ack got lost
				return resend
			default:
				return ignore
			}
		})
		if err != nil {
			return total, fmt.Errorf("error while getting %s: %w", remote, err)
		}

		data := pkt.(*types.Data)

		n, err := dst.Write(data.Payload)
		total += int64(n)

		if err != nil {
			x.abort(types.ErrDiskFull, "")

			return total, fmt.Errorf("error while writing %s: %w", remote, err)
		}

		out, err = types.Encode(types.NewAck(expected))
		if err != nil {
			return total, err
		}

		acked = true

		if len(data.Payload) < types.MaxPayloadSize {
			if err := x.send(out, x.dest()); err != nil {
				c.l.Debugf("error while sending final ack: %s", err.Error())
			}

			return total, nil
		}

		expected++
	}
}

// Put uploads src as remote and returns the number of bytes sent.
func (c *Client) Put(ctx context.Context, remote string, src io.Reader) (int64, error) {
	if c.conn == nil {
		return 0, utils.ErrNotConnected
	}

	out, err := types.Encode(types.NewRequest(types.OpCodeWRQ, remote, c.mode))
	if err != nil {
		return 0, err
	}

	x := &exchange{c: c, ctx: ctx}
	block := make([]byte, types.MaxPayloadSize)

	var (
		total    int64
		expected uint16
		last     bool
	)

	for {
		_, err := x.roundTrip(out, func(p types.Packet) verdict {
			if a, ok := p.(*types.Ack); ok && a.BlockNum == expected {
				return accept
			}

			return ignore
		})
		if err != nil {
			return total, fmt.Errorf("error while putting %s: %w", remote, err)
		}

		if last {
			return total, nil
		}

		n, err := io.ReadFull(src, block)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			x.abort(types.ErrNotDefined, "")

			return total, fmt.Errorf("error while reading local data for %s: %w", remote, err)
		}

		expected++

		out, err = types.Encode(types.NewData(expected, block[:n]))
		if err != nil {
			return total, err
		}

		total += int64(n)
		last = n < types.MaxPayloadSize
	}
}

type verdict int

const (
	ignore verdict = iota
	accept
	resend
)

// exchange is the per-transfer state: the transfer id of the server side
// once it is known.
type exchange struct {
	c   *Client
	ctx context.Context
	tid net.Addr
}

func (x *exchange) dest() net.Addr {
	if x.tid != nil {
		return x.tid
	}

	return x.c.server
}

func (x *exchange) send(b []byte, to net.Addr) error {
	if err := x.c.conn.SetWriteDeadline(time.Now().Add(x.c.timeout)); err != nil {
		return fmt.Errorf("error while setting write timeout: %w", err)
	}

	if _, err := x.c.conn.WriteTo(b, to); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrPacketCanNotBeSent, err)
	}

	x.c.tracePacket("sent", b, to)

	return nil
}

func (x *exchange) abort(code types.ErrCode, msg string) {
	b, err := types.Encode(types.NewError(code, msg))
	if err != nil {
		return
	}

	if err := x.send(b, x.dest()); err != nil {
		x.c.l.Debugf("error while sending error packet: %s", err.Error())
	}
}

// roundTrip sends out and waits for a reply the check accepts, sending out
// again after every timeout until the attempts run out.
func (x *exchange) roundTrip(out []byte, check func(types.Packet) verdict) (types.Packet, error) {
	for attempt := 1; attempt <= x.c.numTries; attempt++ {
		if err := x.ctx.Err(); err != nil {
			return nil, err
		}

		if err := x.send(out, x.dest()); err != nil {
			return nil, err
		}

		pkt, err := x.await(out, check)
		if err != nil {
			return nil, err
		}

		if pkt != nil {
			return pkt, nil
		}

		x.c.l.Debugf("timeout, attempt %d of %d", attempt, x.c.numTries)
	}

	return nil, utils.ErrRetriesExhausted
}

// await returns a nil packet and no error on timeout.
func (x *exchange) await(out []byte, check func(types.Packet) verdict) (types.Packet, error) {
	deadline := time.Now().Add(x.c.timeout)
	if d, ok := x.ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := x.c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("error while setting read timeout: %w", err)
	}

	for {
		n, from, err := x.c.conn.ReadFrom(x.c.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, x.ctx.Err()
			}

			return nil, fmt.Errorf("error while reading reply: %w", err)
		}

		if x.tid != nil && from.String() != x.tid.String() {
			x.c.l.Debugf("datagram from unknown transfer id %s", from.String())
			x.reject(from)

			continue
		}

		pkt, err := types.Decode(x.c.buf[:n])
		if err != nil {
			x.c.l.Debugf("ignoring datagram from %s: %s", from.String(), err.Error())

			continue
		}

		x.c.tracePacket("received", x.c.buf[:n], from)

		if e, ok := pkt.(*types.Error); ok {
			return nil, fmt.Errorf("%w: %w", utils.ErrPeerAborted, e)
		}

		switch check(pkt) {
		case accept:
			if x.tid == nil {
				x.tid = from
			}

			return pkt, nil
		case resend:
			if err := x.send(out, from); err != nil {
				return nil, err
			}
		}
	}
}

func (x *exchange) reject(to net.Addr) {
	b, err := types.Encode(types.NewError(types.ErrUnknownTransferId, ""))
	if err != nil {
		return
	}

	if err := x.send(b, to); err != nil {
		x.c.l.Debugf("error while rejecting %s: %s", to.String(), err.Error())
	}
}

func (c *Client) tracePacket(dir string, b []byte, peer net.Addr) {
	if !c.trace {
		return
	}

	pkt, err := types.Decode(b)
	if err != nil {
		return
	}

	switch p := pkt.(type) {
	case *types.Data:
		c.l.Infof("%s %s block=%d size=%d peer=%s", dir, p.Op(), p.BlockNum, len(p.Payload), peer.String())
	case *types.Ack:
		c.l.Infof("%s %s block=%d peer=%s", dir, p.Op(), p.BlockNum, peer.String())
	case *types.Error:
		c.l.Infof("%s %s code=%d msg=%q peer=%s", dir, p.Op(), p.ErrorCode, p.ErrMsg, peer.String())
	case *types.Request:
		c.l.Infof("%s %s file=%s mode=%s peer=%s", dir, p.Op(), p.Filename, p.Mode, peer.String())
	}
}
