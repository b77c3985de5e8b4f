package server

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/types"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func startServer(t *testing.T, cfg Config, logger *zap.SugaredLogger) *Server {
	t.Helper()

	if cfg.BaseDir == "" {
		cfg.BaseDir = t.TempDir()
	}

	cfg.Host = "127.0.0.1"
	cfg.Port = "0"

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}

	if logger == nil {
		logger = zaptest.NewLogger(t).Sugar()
	}

	s := NewServer(logger, cfg)
	require.NoError(t, s.Listen())

	done := make(chan error, 1)

	go func() { done <- s.Serve() }()

	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, <-done)
		s.Wait()
	})

	return s
}

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestServerReadEndToEnd(t *testing.T) {
	dir := t.TempDir()
	content := patterned(1000)
	writeFile(t, dir, "boot.img", content)

	s := startServer(t, Config{BaseDir: dir}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "boot.img", "octet"))

	data, session := peer.recvData(testWait)
	require.Equal(t, uint16(1), data.BlockNum)
	require.Equal(t, content[:512], data.Payload)
	assert.NotEqual(t, s.Addr().String(), session.String(), "transfer must run on its own port")

	peer.send(session, types.NewAck(1))

	data, from := peer.recvData(testWait)
	require.Equal(t, uint16(2), data.BlockNum)
	require.Equal(t, content[512:], data.Payload)
	require.Equal(t, session.String(), from.String())

	peer.send(session, types.NewAck(2))

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, testWait, 10*time.Millisecond)
	assert.Equal(t, uint64(0), s.Stats().Failed)
	peer.expectSilence(300 * time.Millisecond)
}

func TestServerWriteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	s := startServer(t, Config{BaseDir: dir}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeWRQ, "upload.bin", "octet"))

	ack, session := peer.recvAck(testWait)
	require.Equal(t, uint16(0), ack.BlockNum)

	block := patterned(512)
	peer.send(session, types.NewData(1, block))

	ack, _ = peer.recvAck(testWait)
	require.Equal(t, uint16(1), ack.BlockNum)

	peer.send(session, types.NewData(2, nil))

	ack, _ = peer.recvAck(testWait)
	require.Equal(t, uint16(2), ack.BlockNum)

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, testWait, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(dir, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, block, got)
}

func TestServerWriteTruncatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.txt", patterned(4096))

	s := startServer(t, Config{BaseDir: dir}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeWRQ, "config.txt", "octet"))

	_, session := peer.recvAck(testWait)
	peer.send(session, types.NewData(1, []byte("short")))
	peer.recvAck(testWait)

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, testWait, 10*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(dir, "config.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("short"), got)
}

func TestServerReadMissingFile(t *testing.T) {
	s := startServer(t, Config{}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "missing.txt", "octet"))

	errPacket, from := peer.recvError(testWait)
	assert.Equal(t, types.ErrFileNotFound, errPacket.ErrorCode)
	assert.Equal(t, "file not found", errPacket.ErrMsg)
	assert.Equal(t, s.Addr().String(), from.String())
	assert.Equal(t, uint64(0), s.Stats().Started)
}

func TestServerReadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	s := startServer(t, Config{BaseDir: dir}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "sub", "octet"))

	errPacket, _ := peer.recvError(testWait)
	assert.Equal(t, types.ErrAccessViolation, errPacket.ErrorCode)
}

func TestServerPathConfinement(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.Mkdir(root, 0o755))
	writeFile(t, parent, "secret", []byte("do not serve"))

	s := startServer(t, Config{BaseDir: root}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "../secret", "octet"))

	errPacket, _ := peer.recvError(testWait)
	assert.Equal(t, types.ErrFileNotFound, errPacket.ErrorCode)
}

func TestServerWriteOpenFailureKeepsServing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "after.txt", []byte("still here"))

	core, logs := observer.New(zap.InfoLevel)
	s := startServer(t, Config{BaseDir: dir}, zap.New(core).Sugar())
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeWRQ, "no/such/dir/file.bin", "octet"))
	peer.expectSilence(200 * time.Millisecond)

	assert.Equal(t, 1, logs.FilterMessageSnippet("error while opening file for writing").Len())

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "after.txt", "octet"))

	data, session := peer.recvData(testWait)
	assert.Equal(t, []byte("still here"), data.Payload)
	peer.send(session, types.NewAck(1))

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, testWait, 10*time.Millisecond)
}

func TestServerDropsNonRequests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", []byte("a"))

	s := startServer(t, Config{BaseDir: dir}, nil)
	peer := newTestPeer(t)

	peer.sendRaw(s.Addr(), []byte{0, 9, 1, 2, 3})
	peer.sendRaw(s.Addr(), []byte("\x00\x01unterminated"))
	peer.send(s.Addr(), types.NewAck(1))
	peer.send(s.Addr(), types.NewData(1, []byte("stray")))
	peer.expectSilence(200 * time.Millisecond)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "a.txt", "octet"))

	data, session := peer.recvData(testWait)
	assert.Equal(t, []byte("a"), data.Payload)
	peer.send(session, types.NewAck(1))

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, testWait, 10*time.Millisecond)
	assert.Equal(t, uint64(4), s.Stats().Dropped)
	assert.Equal(t, uint64(1), s.Stats().Requests)
}

func TestServerUnsupportedMode(t *testing.T) {
	s := startServer(t, Config{}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "a.txt", "MAIL"))

	errPacket, _ := peer.recvError(testWait)
	assert.Equal(t, types.ErrIllegalTftpOp, errPacket.ErrorCode)
	assert.Equal(t, "mail mode is not supported", errPacket.ErrMsg)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeWRQ, "a.txt", "binary"))

	errPacket, _ = peer.recvError(testWait)
	assert.Equal(t, types.ErrIllegalTftpOp, errPacket.ErrorCode)
	assert.Equal(t, "unsupported mode binary", errPacket.ErrMsg)
	assert.Equal(t, uint64(0), s.Stats().Started)
}

func TestServerListenErrorIsWrappedOnce(t *testing.T) {
	taken, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = taken.Close() })

	_, port, err := net.SplitHostPort(taken.LocalAddr().String())
	require.NoError(t, err)

	s := NewServer(zaptest.NewLogger(t).Sugar(), Config{Host: "127.0.0.1", Port: port})

	err = s.Listen()
	require.ErrorIs(t, err, utils.ErrStartingServer)
	assert.Equal(t, 1, strings.Count(err.Error(), utils.ErrStartingServer.Error()))
	assert.Nil(t, s.Addr())
}

func TestServerModeIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", []byte("line\n"))

	s := startServer(t, Config{BaseDir: dir}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "a.txt", "NetASCII"))

	// translation is off by default: bytes go out untouched
	data, session := peer.recvData(testWait)
	assert.Equal(t, []byte("line\n"), data.Payload)
	peer.send(session, types.NewAck(1))
}

func TestServerDuplicateRequestFromActivePeer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.bin", patterned(1000))

	s := startServer(t, Config{BaseDir: dir, ReadTimeout: time.Second}, nil)
	peer := newTestPeer(t)

	rrq := types.NewRequest(types.OpCodeRRQ, "big.bin", "octet")
	peer.send(s.Addr(), rrq)

	_, session := peer.recvData(testWait)

	peer.send(s.Addr(), rrq)
	peer.expectSilence(300 * time.Millisecond)

	peer.send(session, types.NewAck(1))
	peer.recvData(testWait)
	peer.send(session, types.NewAck(2))

	require.Eventually(t, func() bool { return s.Stats().Completed == 1 }, testWait, 10*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Started)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestServerConcurrentSessions(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"one.bin":   patterned(3000),
		"two.bin":   patterned(1200),
		"three.bin": patterned(512),
	}

	for name, content := range files {
		writeFile(t, dir, name, content)
	}

	s := startServer(t, Config{BaseDir: dir, ReadTimeout: time.Second}, nil)

	var wg sync.WaitGroup

	sessions := make(chan string, len(files))

	for name, content := range files {
		wg.Add(1)

		peer := newTestPeer(t)

		go func(peer *testPeer, name string, content []byte) {
			defer wg.Done()

			peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, name, "octet"))

			var got []byte
			var session net.Addr

			for {
				data, from := peer.recvData(testWait)
				session = from
				got = append(got, data.Payload...)
				peer.send(from, types.NewAck(data.BlockNum))

				if len(data.Payload) < types.MaxPayloadSize {
					break
				}
			}

			sessions <- session.String()

			assert.Equal(t, content, got, name)
		}(peer, name, content)
	}

	wg.Wait()
	close(sessions)

	seen := make(map[string]bool)
	for addr := range sessions {
		assert.False(t, seen[addr], "sessions must not share a socket")
		seen[addr] = true
	}

	require.Eventually(t, func() bool { return s.Stats().Completed == uint64(len(files)) }, testWait, 10*time.Millisecond)
}

func TestServerAbandonedDownloadIsCounted(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.bin", patterned(2000))

	s := startServer(t, Config{BaseDir: dir, ReadTimeout: 50 * time.Millisecond, NumTries: 2}, nil)
	peer := newTestPeer(t)

	peer.send(s.Addr(), types.NewRequest(types.OpCodeRRQ, "a.bin", "octet"))

	for i := 0; i < 2; i++ {
		data, _ := peer.recvData(testWait)
		require.Equal(t, uint16(1), data.BlockNum)
	}

	require.Eventually(t, func() bool { return s.Stats().Failed == 1 }, testWait, 10*time.Millisecond)
	peer.expectSilence(200 * time.Millisecond)
}
