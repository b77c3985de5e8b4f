package server

import (
	"context"
	"fmt"
	"net"

	"github.com/Wa4h1h/minitftpd/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// listener is the well-known request socket. On udp4 it also reports the
// local address each request was sent to, so a session on a multi-homed
// host answers from the address the client talked to.
type listener struct {
	net.PacketConn
	pc *ipv4.PacketConn
}

func listen(cfg Config, logger *zap.SugaredLogger) (*listener, error) {
	lc := net.ListenConfig{}
	if cfg.ReusePort {
		lc.Control = controlReusePort()
	}

	conn, err := lc.ListenPacket(context.Background(), cfg.Network, net.JoinHostPort(cfg.Host, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrStartingServer, err)
	}

	ln := &listener{PacketConn: conn}

	if cfg.Network == "udp4" {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
			logger.Debugf("destination address not available, sessions bind to any address: %s", err.Error())
		} else {
			ln.pc = pc
		}
	}

	return ln, nil
}

// readFrom returns the datagram size, its sender and the local destination
// address, which is nil when unknown.
func (ln *listener) readFrom(b []byte) (int, net.Addr, net.IP, error) {
	if ln.pc == nil {
		n, addr, err := ln.PacketConn.ReadFrom(b)

		return n, addr, nil, err
	}

	n, cm, addr, err := ln.pc.ReadFrom(b)

	var dst net.IP
	if cm != nil {
		dst = cm.Dst
	}

	return n, addr, dst, err
}

// dialPeer opens the per-session socket on an ephemeral port, connected to
// the peer so the kernel drops datagrams from anyone else.
func dialPeer(network string, peer net.Addr, local net.IP) (net.Conn, error) {
	d := net.Dialer{}

	if local != nil && !local.IsUnspecified() && !local.IsMulticast() {
		d.LocalAddr = &net.UDPAddr{IP: local}

		conn, err := d.Dial(network, peer.String())
		if err == nil {
			return conn, nil
		}

		d.LocalAddr = nil
	}

	conn, err := d.Dial(network, peer.String())
	if err != nil {
		return nil, fmt.Errorf("error while dialing %s: %w", peer, err)
	}

	return conn, nil
}
