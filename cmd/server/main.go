package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wa4h1h/minitftpd/pkg/server"
	"github.com/Wa4h1h/minitftpd/pkg/utils"
)

var (
	tftpPort        = utils.GetEnv[string]("TFTP_PORT", server.DefaultPort, false)
	tftpNetwork     = utils.GetEnv[string]("TFTP_NETWORK", server.DefaultNetwork, false)
	tftpBaseDir     = utils.GetEnv[string]("TFTP_BASE_DIR", "", false)
	logLevel        = utils.GetEnv[string]("TFTP_LOG_LEVEL", "info", false)
	readTimeout     = utils.GetEnv[uint]("TFTP_READ_TIMEOUT", "3", false)
	writeTimeout    = utils.GetEnv[uint]("TFTP_WRITE_TIMEOUT", "3", false)
	numTries        = utils.GetEnv[uint]("TFTP_NUM_TRIES", "5", false)
	reusePort       = utils.GetEnv[bool]("TFTP_REUSE_PORT", "true", false)
	netASCII        = utils.GetEnv[bool]("TFTP_NETASCII", "false", false)
	reackDuplicates = utils.GetEnv[bool]("TFTP_REACK_DUPLICATES", "false", false)
)

func main() {
	port := flag.String("port", tftpPort, "udp port to listen on")
	root := flag.String("root", tftpBaseDir, "directory files are served from (default $HOME/tftp)")
	flag.Parse()

	logger, err := utils.NewLogger(logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	l := logger.Sugar()

	defer func() {
		_ = l.Sync()
	}()

	baseDir := *root
	if baseDir == "" {
		baseDir, err = utils.DefaultBaseDir()
	} else {
		err = utils.EnsureDir(baseDir)
	}

	if err != nil {
		l.Fatal(err.Error())
	}

	s := server.NewServer(l, server.Config{
		Port:            *port,
		Network:         tftpNetwork,
		BaseDir:         baseDir,
		ReadTimeout:     time.Duration(readTimeout) * time.Second,
		WriteTimeout:    time.Duration(writeTimeout) * time.Second,
		NumTries:        int(numTries),
		ReusePort:       reusePort,
		NetASCII:        netASCII,
		ReackDuplicates: reackDuplicates,
	})

	if err := s.Listen(); err != nil {
		l.Fatal(err.Error())
	}

	go func() {
		if err := s.Serve(); err != nil {
			l.Error(err.Error())
		}
	}()

	defer func() {
		if err := s.Close(); err != nil {
			l.Error(err.Error())
		}

		s.Wait()

		stats := s.Stats()
		l.Infow("closed connection", "port", *port,
			"requests", stats.Requests, "completed", stats.Completed, "failed", stats.Failed)
	}()

	// listen shutdown signal
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	<-signalChan
}
