package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Stats struct {
	Requests  uint64
	Dropped   uint64
	Started   uint64
	Completed uint64
	Failed    uint64
}

type counters struct {
	requests  atomic.Uint64
	dropped   atomic.Uint64
	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// Server is the session dispatcher: it owns the request socket and hands
// every accepted request to a session running in its own goroutine.
type Server struct {
	cfg    Config
	logger *zap.SugaredLogger
	ln     *listener

	mu     sync.Mutex
	active map[string]struct{}

	wg    sync.WaitGroup
	stats counters
}

func NewServer(l *zap.SugaredLogger, cfg Config) *Server {
	return &Server{
		cfg:    cfg.withDefaults(),
		logger: l,
		active: make(map[string]struct{}),
	}
}

func (s *Server) Listen() error {
	ln, err := listen(s.cfg, s.logger)
	if err != nil {
		return err
	}

	s.ln = ln

	s.logger.Infof("listening on %s, serving %s", ln.LocalAddr(), s.cfg.BaseDir)

	return nil
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve()
}

// Serve runs the receive loop until the listener is closed. Read errors on
// a live socket are logged and the loop keeps going.
func (s *Server) Serve() error {
	if s.ln == nil {
		return errors.New("error: server is not listening")
	}

	datagram := make([]byte, types.DatagramSize)

	for {
		n, addr, dst, err := s.ln.readFrom(datagram)
		if err != nil {
			if isClosed(err) {
				return nil
			}

			s.logger.Errorf("error while reading request: %s", err.Error())

			continue
		}

		s.handlePacket(datagram[:n], addr, dst)
	}
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}

	return s.ln.LocalAddr()
}

// Close stops accepting requests. Running sessions finish on their own.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}

	if err := s.ln.Close(); err != nil {
		return fmt.Errorf("error while closing connection: %w", err)
	}

	return nil
}

// Wait blocks until every started session has ended.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) Stats() Stats {
	return Stats{
		Requests:  s.stats.requests.Load(),
		Dropped:   s.stats.dropped.Load(),
		Started:   s.stats.started.Load(),
		Completed: s.stats.completed.Load(),
		Failed:    s.stats.failed.Load(),
	}
}

func (s *Server) handlePacket(datagram []byte, addr net.Addr, dst net.IP) {
	p, err := types.Decode(datagram)
	if err != nil {
		s.stats.dropped.Add(1)
		s.logger.Debugf("dropping datagram from %s: %s", addr, err.Error())

		return
	}

	req, ok := p.(*types.Request)
	if !ok {
		s.stats.dropped.Add(1)
		s.logger.Debugf("dropping %s packet from %s on the request port", p.Op(), addr)

		return
	}

	s.stats.requests.Add(1)

	mode := types.NormalizeMode(req.Mode)

	switch mode {
	case types.ModeOctet, types.ModeNetASCII:
	case types.ModeMail:
		s.logger.Infof("rejecting %s %q from %s: mail mode", req.Opcode, req.Filename, addr)
		s.replyError(addr, types.NewError(types.ErrIllegalTftpOp, "mail mode is not supported"))

		return
	default:
		s.logger.Infof("rejecting %s %q from %s: unsupported mode %q", req.Opcode, req.Filename, addr, req.Mode)
		s.replyError(addr, types.NewError(types.ErrIllegalTftpOp, fmt.Sprintf("unsupported mode %s", req.Mode)))

		return
	}

	key := addr.String()
	if !s.claimPeer(key) {
		s.stats.dropped.Add(1)
		s.logger.Warnf("dropping %s %q from %s: transfer already in progress", req.Opcode, req.Filename, addr)

		return
	}

	l := s.logger.With(
		"session", uuid.NewString(),
		"peer", key,
		"op", req.Opcode.String(),
		"file", req.Filename,
	)

	var sess Session
	var conn net.Conn

	switch req.Opcode {
	case types.OpCodeRRQ:
		src, err := openForRead(s.cfg.BaseDir, req.Filename, mode, s.cfg.NetASCII)
		if err != nil {
			s.releasePeer(key)
			l.Infof("read request refused: %s", err.Error())
			s.replyError(addr, errorPacketFor(err))

			return
		}

		conn, err = dialPeer(s.cfg.Network, addr, dst)
		if err != nil {
			s.releasePeer(key)
			l.Errorf("error while creating session socket: %s", err.Error())

			if err := src.Close(); err != nil {
				l.Errorf("error while closing file: %s", err.Error())
			}

			return
		}

		sess = NewDownload(conn, src, l, s.cfg.transferOptions())
	case types.OpCodeWRQ:
		dstFile, err := openForWrite(s.cfg.BaseDir, req.Filename, mode, s.cfg.NetASCII)
		if err != nil {
			s.releasePeer(key)
			l.Errorf("error while opening file for writing: %s", err.Error())

			return
		}

		conn, err = dialPeer(s.cfg.Network, addr, dst)
		if err != nil {
			s.releasePeer(key)
			l.Errorf("error while creating session socket: %s", err.Error())

			if err := dstFile.Close(); err != nil {
				l.Errorf("error while closing file: %s", err.Error())
			}

			return
		}

		sess = NewUpload(conn, dstFile, l, s.cfg.transferOptions())
	}

	s.launch(key, conn, sess, l)
}

func (s *Server) launch(key string, conn net.Conn, sess Session, l *zap.SugaredLogger) {
	s.stats.started.Add(1)
	s.wg.Add(1)

	l.Infof("transfer started on %s", conn.LocalAddr())

	go func() {
		defer s.wg.Done()
		defer s.releasePeer(key)

		defer func() {
			if err := conn.Close(); err != nil {
				l.Errorf("error while closing connection with %s: %s", key, err.Error())
			}
		}()

		if err := sess.Run(); err != nil {
			s.stats.failed.Add(1)
			l.Errorf("transfer %s: %s", sess.State(), err.Error())

			return
		}

		s.stats.completed.Add(1)
		l.Infof("transfer %s", sess.State())
	}()
}

func (s *Server) replyError(addr net.Addr, errPacket *types.Error) {
	if err := writeErrorPacket(s.ln, addr, errPacket, s.cfg.WriteTimeout); err != nil {
		s.logger.Errorf("error while responding to request: %s", err.Error())
	}
}

func (s *Server) claimPeer(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[key]; ok {
		return false
	}

	s.active[key] = struct{}{}

	return true
}

func (s *Server) releasePeer(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, key)
}
