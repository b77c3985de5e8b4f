package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// testPeer plays the remote side of a transfer over loopback UDP.
type testPeer struct {
	t    *testing.T
	conn net.PacketConn
	buf  []byte
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return &testPeer{t: t, conn: conn, buf: make([]byte, types.DatagramSize+1)}
}

func (p *testPeer) addr() net.Addr {
	return p.conn.LocalAddr()
}

// dial returns a server-side socket connected to the peer.
func (p *testPeer) dial() net.Conn {
	p.t.Helper()

	conn, err := net.Dial("udp4", p.addr().String())
	require.NoError(p.t, err)

	p.t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func (p *testPeer) send(to net.Addr, pkt types.Packet) {
	p.t.Helper()

	b, err := types.Encode(pkt)
	require.NoError(p.t, err)

	p.sendRaw(to, b)
}

func (p *testPeer) sendRaw(to net.Addr, b []byte) {
	p.t.Helper()

	_, err := p.conn.WriteTo(b, to)
	require.NoError(p.t, err)
}

func (p *testPeer) recv(timeout time.Duration) (types.Packet, net.Addr) {
	p.t.Helper()

	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(timeout)))

	n, from, err := p.conn.ReadFrom(p.buf)
	require.NoError(p.t, err)

	raw := make([]byte, n)
	copy(raw, p.buf[:n])

	pkt, err := types.Decode(raw)
	require.NoError(p.t, err)

	return pkt, from
}

func (p *testPeer) recvData(timeout time.Duration) (*types.Data, net.Addr) {
	p.t.Helper()

	pkt, from := p.recv(timeout)

	d, ok := pkt.(*types.Data)
	require.Truef(p.t, ok, "expected DATA, got %s", pkt.Op())

	return d, from
}

func (p *testPeer) recvAck(timeout time.Duration) (*types.Ack, net.Addr) {
	p.t.Helper()

	pkt, from := p.recv(timeout)

	a, ok := pkt.(*types.Ack)
	require.Truef(p.t, ok, "expected ACK, got %s", pkt.Op())

	return a, from
}

func (p *testPeer) recvError(timeout time.Duration) (*types.Error, net.Addr) {
	p.t.Helper()

	pkt, from := p.recv(timeout)

	e, ok := pkt.(*types.Error)
	require.Truef(p.t, ok, "expected ERROR, got %s", pkt.Op())

	return e, from
}

// expectSilence fails if any datagram arrives within d.
func (p *testPeer) expectSilence(d time.Duration) {
	p.t.Helper()

	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(d)))

	n, _, err := p.conn.ReadFrom(p.buf)
	require.Truef(p.t, errors.Is(err, os.ErrDeadlineExceeded), "unexpected datagram of %d bytes (err=%v)", n, err)
}

type trackingReader struct {
	io.Reader
	closed atomic.Bool
}

func (r *trackingReader) Close() error {
	r.closed.Store(true)

	return nil
}

type trackingWriter struct {
	bytes.Buffer
	closed   atomic.Bool
	err      error
	closeErr error
}

func (w *trackingWriter) Write(b []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	return w.Buffer.Write(b)
}

func (w *trackingWriter) Close() error {
	w.closed.Store(true)

	return w.closeErr
}

func runSession(s Session) <-chan error {
	errc := make(chan error, 1)

	go func() { errc <- s.Run() }()

	return errc
}

func waitSession(t *testing.T, errc <-chan error, timeout time.Duration) error {
	t.Helper()

	select {
	case err := <-errc:
		return err
	case <-time.After(timeout):
		t.Fatal("session did not finish")

		return nil
	}
}

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}

	return b
}
